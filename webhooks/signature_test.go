package webhooks

import "testing"

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"task.created","data":{"task_id":"t1"}}`)
	sig := SignBody("hook-secret", body)

	if !VerifySignature("hook-secret", body, sig) {
		t.Fatalf("valid signature rejected")
	}
	if !VerifySignature("hook-secret", body, "sha256="+sig) {
		t.Fatalf("prefixed signature rejected")
	}
	if VerifySignature("wrong-secret", body, sig) {
		t.Fatalf("signature verified under wrong secret")
	}
	if VerifySignature("hook-secret", []byte(`{"tampered":true}`), sig) {
		t.Fatalf("signature verified over tampered body")
	}
	if VerifySignature("hook-secret", body, "") {
		t.Fatalf("empty signature verified")
	}
	if VerifySignature("", body, sig) {
		t.Fatalf("empty secret verified")
	}
	if VerifySignature("hook-secret", body, "not-hex") {
		t.Fatalf("malformed signature verified")
	}
}
