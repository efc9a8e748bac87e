package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		raw     string
		want    string
		wantErr bool
	}{
		"bearer prefix":  {raw: "Bearer abc.def", want: "abc.def"},
		"lowercase":      {raw: "bearer abc.def", want: "abc.def"},
		"bare token":     {raw: "abc.def", want: "abc.def"},
		"empty":          {raw: "  ", wantErr: true},
		"prefix only":    {raw: "Bearer ", wantErr: true},
		"embedded space": {raw: "Bearer abc def", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := BearerToken(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %q, got %q (%v)", tc.want, got, err)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  ana@example.com ", 0); got != "ana@example.com" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("zoë\x00@ex", 3); got != "zoë" {
		t.Fatalf("expected rune-safe truncation without control chars, got %q", got)
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"ana@example.com"}`))
	var ok payload
	if err := DecodeJSONBody(req, &ok); err != nil || ok.Email != "ana@example.com" {
		t.Fatalf("unexpected decode result %+v (%v)", ok, err)
	}

	bodies := []string{
		`{"email":"nope"}`,
		`{"other":1}`,
		`{`,
		``,
		`{"email":1}`,
		`{"email":"ana@example.com"}{"email":"ana@example.com"}`,
		`{"email":"` + strings.Repeat("a", MaxJSONBodyBytes) + `@example.com"}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dest payload
		err := DecodeJSONBody(req, &dest)
		if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("body %.40s: expected validation error, got %v", body, err)
		}
	}
}
