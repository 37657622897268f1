package script

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type namedScript struct {
	typ string
}

func (s *namedScript) Type() string                          { return s.typ }
func (s *namedScript) Validate() bool                        { return true }
func (s *namedScript) GenerateWork() (WorkDescriptor, error) { return WorkDescriptor{}, nil }
func (s *namedScript) ProcessResult(raw RawResult) Result    { return Result{Status: StatusCompleted} }
func (s *namedScript) Params() map[string]any                { return nil }

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	sc := &namedScript{typ: "reporting"}
	id, err := r.Register(sc)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(id, "reporting_") {
		t.Fatalf("id %q should embed the script type", id)
	}

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Script(sc) {
		t.Fatal("Get returned a different script")
	}

	// Same script registered twice gets distinct ids.
	id2, err := r.Register(sc)
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if id2 == id {
		t.Fatal("ids must be unique per registration")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, err := r.Register(nil); err == nil {
		t.Fatal("nil script accepted")
	}
	if _, err := r.Register(&namedScript{typ: "  "}); err == nil {
		t.Fatal("blank type accepted")
	}
}

func TestTypes(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, typ := range []string{"reporting", "bid_adjuster", "reporting"} {
		if _, err := r.Register(&namedScript{typ: typ}); err != nil {
			t.Fatalf("Register(%s): %v", typ, err)
		}
	}
	want := []string{"bid_adjuster", "reporting"}
	if got := r.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
}
