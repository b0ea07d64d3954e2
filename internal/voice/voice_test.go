package voice

import "testing"

func TestForLanguage(t *testing.T) {
	v, err := ForLanguage("KA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "ka-GE-EkaNeural" {
		t.Fatalf("unexpected voice %q", v.Name)
	}
	if _, err := ForLanguage("xx"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestResolvePrefersExplicit(t *testing.T) {
	name, err := Resolve("ru", "ru-RU-DmitryNeural")
	if err != nil || name != "ru-RU-DmitryNeural" {
		t.Fatalf("expected explicit voice, got %q err=%v", name, err)
	}
	name, err = Resolve("en-US", "")
	if err != nil || name != "en-US-SteffanNeural" {
		t.Fatalf("expected table voice, got %q err=%v", name, err)
	}
}

func TestLocaleOf(t *testing.T) {
	if got := LocaleOf("ka-GE-EkaNeural"); got != "ka-GE" {
		t.Fatalf("unexpected locale %q", got)
	}
	if got := LocaleOf("Joanna"); got != "en-US" {
		t.Fatalf("expected fallback locale, got %q", got)
	}
}

func TestList(t *testing.T) {
	voices := List()
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %d", len(voices))
	}
	for i := 1; i < len(voices); i++ {
		if voices[i-1].Language > voices[i].Language {
			t.Fatal("expected voices sorted by language")
		}
	}
}
