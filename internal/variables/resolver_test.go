package variables

import (
	"path/filepath"
	"testing"
	"time"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/store"
	"flightplan/internal/types"
)

type fakeSource struct {
	values []types.VariableValue
	calls  int
}

func (f *fakeSource) ValuesFor(serverIDs []int64, names []string) ([]types.VariableValue, error) {
	f.calls++
	wantServer := map[int64]bool{0: true}
	for _, id := range serverIDs {
		wantServer[id] = true
	}
	wantName := map[string]bool{}
	for _, n := range names {
		wantName[n] = true
	}
	var out []types.VariableValue
	for _, v := range f.values {
		if wantServer[v.ServerID] && wantName[v.Name] {
			out = append(out, v)
		}
	}
	return out, nil
}

func value(m map[string]*string, name string) string {
	if m[name] == nil {
		return "<nil>"
	}
	return *m[name]
}

func TestResolveManyBatchesAndFallsBack(t *testing.T) {
	src := &fakeSource{values: []types.VariableValue{
		{Name: "branch", ServerID: 0, Value: "main"},
		{Name: "branch", ServerID: 1, Value: "feature"},
		{Name: "port", ServerID: 2, Value: "8080"},
	}}
	r := NewResolver(src, 0)

	got, err := r.ResolveMany([]int64{1, 2, 3}, []string{"branch", "port"})
	if err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("expected a single batched lookup, got %d", src.calls)
	}
	cases := []struct {
		server int64
		name   string
		want   string
	}{
		{1, "branch", "feature"},
		{2, "branch", "main"},
		{3, "branch", "main"},
		{1, "port", "<nil>"},
		{2, "port", "8080"},
	}
	for _, c := range cases {
		if v := value(got[c.server], c.name); v != c.want {
			t.Errorf("server %d %s = %s, want %s", c.server, c.name, v, c.want)
		}
	}
}

func TestResolveRecursiveExpandsNestedValues(t *testing.T) {
	src := &fakeSource{values: []types.VariableValue{
		{Name: "url", ServerID: 0, Value: "https://{{ host }}:{{ port }}/{{ path }}"},
		{Name: "host", ServerID: 0, Value: "example.com"},
		{Name: "host", ServerID: 7, Value: "web7.example.com"},
		{Name: "port", ServerID: 0, Value: "443"},
		{Name: "path", ServerID: 0, Value: "{{ app }}/api"},
		{Name: "app", ServerID: 0, Value: "shop"},
	}}
	r := NewResolver(src, 5)

	got, err := r.ResolveRecursive(7, []string{"url"})
	if err != nil {
		t.Fatal(err)
	}
	if v := value(got, "url"); v != "https://web7.example.com:443/shop/api" {
		t.Errorf("unexpected expansion: %s", v)
	}
}

func TestResolveRecursiveDetectsCycles(t *testing.T) {
	src := &fakeSource{values: []types.VariableValue{
		{Name: "a", Value: "{{ b }}"},
		{Name: "b", Value: "{{ a }}"},
	}}
	_, err := NewResolver(src, 3).ResolveRecursive(0, []string{"a"})
	if !apperrors.Is(err, apperrors.ErrCodeTemplate) {
		t.Fatalf("expected TEMPLATE_ERROR for cycle, got %v", err)
	}
}

func TestResolveRecursiveUndefinedReference(t *testing.T) {
	src := &fakeSource{values: []types.VariableValue{{Name: "a", Value: "x-{{ ghost }}"}}}
	_, err := NewResolver(src, 3).ResolveRecursive(0, []string{"a"})
	if !apperrors.Is(err, apperrors.ErrCodeTemplate) {
		t.Fatalf("expected TEMPLATE_ERROR for undefined reference, got %v", err)
	}
}

func TestBindingsDropsNil(t *testing.T) {
	v := "x"
	b := Bindings(map[string]*string{"set": &v, "unset": nil})
	if len(b) != 1 || b["set"] != "x" {
		t.Errorf("unexpected bindings %v", b)
	}
}

// Global value applies until a server value is set; removing it reverts to global.
func TestResolutionFallbackAgainstStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "fp.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	srv := &types.Server{Reference: "web", Name: "web"}
	if err := s.UpsertServer(srv); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(s, 0)

	check := func(want string) {
		t.Helper()
		got, err := r.Resolve(srv.ID, []string{"release"})
		if err != nil {
			t.Fatal(err)
		}
		if v := value(got, "release"); v != want {
			t.Fatalf("release = %s, want %s", v, want)
		}
	}

	check("<nil>")
	if err := s.SetVariableValue("release", 0, "global"); err != nil {
		t.Fatal(err)
	}
	check("global")
	if err := s.SetVariableValue("release", srv.ID, "server"); err != nil {
		t.Fatal(err)
	}
	check("server")
	if err := s.UnsetVariableValue("release", srv.ID); err != nil {
		t.Fatal(err)
	}
	check("global")
}
