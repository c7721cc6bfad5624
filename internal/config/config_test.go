package config

import "testing"

func TestIsSecretEnvName(t *testing.T) {
	cases := map[string]bool{
		"LUCYD_ANYTHING": true,
		"OPENAI_API_KEY": true,
		"GITHUB_TOKEN":   true,
		"DB_PASSWORD":    true,
		"HOME":           false,
		"PATH":           false,
		"LANG":           false,
	}
	for name, want := range cases {
		if got := IsSecretEnvName(name); got != want {
			t.Errorf("IsSecretEnvName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestModelForSourceDefaultsToPrimary(t *testing.T) {
	cfg := &Config{
		Models:  map[string]ModelConfig{"primary": {Provider: "anthropic-compat", Model: "claude"}},
		Routing: map[string]string{},
	}
	key, mc, err := cfg.ModelForSource("http")
	if err != nil {
		t.Fatalf("ModelForSource: %v", err)
	}
	if key != "primary" || mc.Model != "claude" {
		t.Fatalf("expected default routing to 'primary', got key=%q model=%q", key, mc.Model)
	}
}
