package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "C101", "Invalid collab.json", CategoryConfig},
		{"lock error", "L201", "Invalid lock key", CategoryLock},
		{"connectivity error", "R301", "Redis unavailable", CategoryConnectivity},
		{"unknown error code", "Z999", "Unknown error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewCarriesTemplateSuggestion(t *testing.T) {
	err := New("C106")
	if !strings.Contains(err.Suggestion, "duration") {
		t.Errorf("Suggestion = %q", err.Suggestion)
	}
	err.WithSuggestion("custom")
	if New("C106").Suggestion == "custom" {
		t.Error("modifying an error must not modify the registry")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		err  *CollabError
		want string
	}{
		{New("C102"), "C102: Missing required configuration"},
		{New("C102").WithField("redis.addr"), "C102: Missing required configuration (redis.addr)"},
		{New("C106").WithField("lock.ttl").WithDetail("bad"), "C106: Invalid duration (lock.ttl): bad"},
		{&CollabError{Message: "plain"}, "plain"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryCLI, "unknown flag %q", "--x")
	if err.Message != `unknown flag "--x"` || err.Category != CategoryCLI {
		t.Errorf("Newf = %+v", err)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := New("R301").Wrap(cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if err.Detail != cause.Error() {
		t.Errorf("Detail = %q, want the cause's message", err.Detail)
	}

	kept := New("R301").WithDetail("explicit").Wrap(cause)
	if kept.Detail != "explicit" {
		t.Errorf("Wrap replaced an explicit detail: %q", kept.Detail)
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "R301") != nil {
		t.Error("FromError(nil) should be nil")
	}

	coded := New("C104")
	wrapped := fmt.Errorf("loading: %w", coded)
	if got := FromError(wrapped, "R301"); got != coded {
		t.Errorf("FromError should return the existing CollabError, got %v", got)
	}

	plain := stderrors.New("boom")
	got := FromError(plain, "R304")
	if got.Code != "R304" || !stderrors.Is(got, plain) {
		t.Errorf("FromError(plain) = %+v", got)
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("serve: %w", New("C103"))
	if !HasCode(err, "C103") {
		t.Error("HasCode should see through wrapping")
	}
	if HasCode(err, "C101") || HasCode(stderrors.New("x"), "C103") {
		t.Error("HasCode matched the wrong code")
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	out := New("C106").WithField("lock.ttl").WithDetail(`"soon" is not a duration`).Format()
	for _, want := range []string{
		"ERROR C106: Invalid duration",
		"field: lock.ttl",
		`"soon" is not a duration`,
		"Hint: Use Go duration syntax",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() emitted colors while disabled")
	}
}

func TestFormatColors(t *testing.T) {
	EnableColors()
	if out := New("C101").Format(); !strings.Contains(out, colorRed) {
		t.Error("Format() should colorize when enabled")
	}
}

func TestFormatCompact(t *testing.T) {
	if got := New("L203").FormatCompact(); got != "L203: Lock not owned" {
		t.Errorf("FormatCompact() = %q", got)
	}
	if got := (&CollabError{Message: "m"}).FormatCompact(); got != "m" {
		t.Errorf("FormatCompact() = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	var out map[string]string
	raw := New("C102").WithField("redis.addr").FormatJSON()
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON %s: %v", raw, err)
	}
	if out["code"] != "C102" || out["category"] != "config" || out["field"] != "redis.addr" {
		t.Errorf("FormatJSON = %v", out)
	}
	if _, ok := out["detail"]; ok {
		t.Error("empty detail should be omitted")
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, fmt.Errorf("wrapped: %w", New("R302")))
	if !strings.Contains(buf.String(), "ERROR R302: Document store unavailable") {
		t.Errorf("Fprint coded = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("Fprint plain = %q", buf.String())
	}
}

func TestWrapText(t *testing.T) {
	if wrapText("", 10) != nil {
		t.Error("empty text should wrap to nil")
	}
	lines := wrapText("the quick brown fox jumps over the lazy dog", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q longer than 10", l)
		}
	}
	if strings.Join(lines, " ") != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("wrapText lost words: %v", lines)
	}
}

func TestRegistryCodes(t *testing.T) {
	codes := GetAllCodes()
	if !sort.StringsAreSorted(codes) {
		t.Error("GetAllCodes should be sorted")
	}
	prefixes := map[Category]string{
		CategoryConfig:       "C",
		CategoryLock:         "L",
		CategoryConnectivity: "R",
	}
	for _, code := range codes {
		tmpl, ok := GetTemplate(code)
		if !ok || tmpl.Message == "" {
			t.Errorf("%s: missing template", code)
			continue
		}
		if p := prefixes[tmpl.Category]; p != "" && !strings.HasPrefix(code, p) {
			t.Errorf("%s: category %s expects prefix %s", code, tmpl.Category, p)
		}
	}
}
