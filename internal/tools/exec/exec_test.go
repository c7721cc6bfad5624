package exec

import (
	"os"
	"testing"
)

func TestSafeEnvStripsSecretPrefixedVars(t *testing.T) {
	t.Setenv("LUCYD_API_KEY", "super-secret")
	t.Setenv("PATH_FOR_TEST_ONLY", "kept")

	env := safeEnv()
	for _, kv := range env {
		if len(kv) >= len("LUCYD_") && kv[:len("LUCYD_")] == "LUCYD_" {
			t.Fatalf("expected LUCYD_-prefixed vars stripped, found %q", kv)
		}
	}

	found := false
	for _, kv := range env {
		if kv == "PATH_FOR_TEST_ONLY=kept" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a non-secret var to survive safeEnv")
	}
	_ = os.Environ()
}
