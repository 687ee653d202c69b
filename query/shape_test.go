package query

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestShapeOf(t *testing.T) {
	s, err := ShapeOf[UserDTO]()
	require.NoError(t, err)
	require.Equal(t, KindObject, s.Kind)
	require.Equal(t, []string{"name", "icon", "posts", "createdAt", "friends", "extra"}, s.Keys())

	posts, ok := s.Field("posts")
	require.True(t, ok)
	require.Equal(t, KindList, posts.Kind)
	require.Equal(t, []string{"id", "title", "hits"}, posts.Elem.Keys())

	created, _ := s.Field("createdAt")
	require.Equal(t, KindScalar, created.Kind)
	require.Equal(t, reflect.TypeFor[time.Time](), created.Type)

	friends, _ := s.Field("friends")
	require.Same(t, s, friends.Elem, "recursive types share one shape")

	extra, _ := s.Field("extra")
	require.Equal(t, KindOpen, extra.Kind)

	again, err := ShapeOf[UserDTO]()
	require.NoError(t, err)
	require.Same(t, s, again)
}

func TestShapeOfEmbedded(t *testing.T) {
	type Base struct {
		ID string `json:"id"`
	}
	type Node struct {
		Base
		Label  string `json:"label"`
		Hidden string `json:"-"`
	}
	s, err := ShapeOf[Node]()
	require.NoError(t, err)
	require.Equal(t, []string{"id", "label"}, s.Keys())
}

func TestShapeOfUnsupported(t *testing.T) {
	type Bad struct {
		C chan int `json:"c"`
	}
	_, err := ShapeOf[Bad]()
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ShapeOf[map[int]string]()
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestValidate(t *testing.T) {
	s, err := ShapeOf[UserDTO]()
	require.NoError(t, err)

	require.NoError(t, s.Validate(nil))
	require.NoError(t, s.Validate(Select(Leaf("name"), Skip("icon"), Object("posts", Leaf("id")))))
	require.NoError(t, s.Validate(Select(Object("friends", Leaf("name"), Object("friends", Leaf("icon"))))))
	require.NoError(t, s.Validate(Select(Object("extra", Leaf("anything")))))

	tests := []struct {
		name string
		sel  Selection
		want error
		path []string
	}{
		{"unknown field", Select(Leaf("nmae")), ErrUnknownField, []string{"nmae"}},
		{"scalar with sub-selection", Select(Object("name", Leaf("x"))), ErrLeafWithSelection, []string{"name"}},
		{"object as flag", Select(Leaf("posts")), ErrCompositeWithoutSelection, []string{"posts"}},
		{"object skipped with a flag", Select(Skip("posts")), ErrCompositeWithoutSelection, []string{"posts"}},
		{"empty sub-selection", Select(Object("posts")), ErrEmptySelection, []string{"posts"}},
		{"nested unknown", Select(Object("posts", Leaf("likes"))), ErrUnknownField, []string{"posts", "likes"}},
		{"duplicate", Select(Leaf("name"), Leaf("name")), ErrDuplicateField, []string{"name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.sel)
			require.ErrorIs(t, err, tt.want)
			var ce *ContractError
			require.True(t, errors.As(err, &ce))
			require.Equal(t, tt.path, ce.Path)
		})
	}
}

func TestValidateScalarRoot(t *testing.T) {
	s, err := ShapeOf[string]()
	require.NoError(t, err)
	require.NoError(t, s.Validate(nil))
	require.ErrorIs(t, s.Validate(Select(Leaf("x"))), ErrLeafWithSelection)
}

func TestReduceKeepsExactlySelectedKeys(t *testing.T) {
	s, err := ShapeOf[UserDTO]()
	require.NoError(t, err)

	sels := []Selection{
		Select(Leaf("name")),
		Select(Leaf("name"), Leaf("icon"), Object("posts", Leaf("id"), Leaf("title"), Leaf("hits"))),
		Select(Skip("name"), Object("posts", Leaf("hits"), Skip("id"))),
		Select(Object("friends", Leaf("icon"), Object("posts", Leaf("id")))),
	}
	for _, sel := range sels {
		require.NoError(t, s.Validate(sel))
		assertReduced(t, s, sel)
	}
}

func assertReduced(t *testing.T, full *Shape, sel Selection) {
	t.Helper()
	reduced := full.Reduce(sel)
	if full.Kind == KindList {
		require.Equal(t, KindList, reduced.Kind)
		assertReduced(t, full.Elem, sel)
		return
	}
	if full.Kind != KindObject {
		require.Same(t, full, reduced)
		return
	}
	want := sel.Keys()
	if want == nil {
		want = []string{}
	}
	if diff := cmp.Diff(want, reduced.Keys()); diff != "" {
		t.Fatalf("reduced keys mismatch (-want +got):\n%s", diff)
	}
	for _, f := range sel {
		if !f.Selected {
			continue
		}
		fs, _ := full.Field(f.Name)
		assertReduced(t, fs, f.Sub)
	}
}

func TestReduceNilSelection(t *testing.T) {
	s, err := ShapeOf[UserDTO]()
	require.NoError(t, err)
	r := s.Reduce(nil)
	require.Equal(t, KindObject, r.Kind)
	require.Empty(t, r.Fields)

	list, err := ShapeOf[[]PostDTO]()
	require.NoError(t, err)
	r = list.Reduce(nil)
	require.Equal(t, KindList, r.Kind)
	require.Empty(t, r.Elem.Fields)
}

func TestSelectAll(t *testing.T) {
	sel, err := SelectAll[UserDTO]()
	require.NoError(t, err)
	got := Assemble(OpQuery, "user", sel, nil)
	require.Equal(t, "query { user { name icon posts { id title hits } createdAt extra } }", got)
}

func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection("name posts { id hits }")
	require.NoError(t, err)
	want := Select(Leaf("name"), Object("posts", Leaf("id"), Leaf("hits")))
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseSelection("posts(first: 2) { id }")
	require.Error(t, err)

	sel, err = ParseSelection("name } { icon")
	require.Error(t, err, "trailing fields must not be dropped")
	require.Nil(t, sel)
}
