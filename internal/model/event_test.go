package model

import "testing"

func TestEventDedupKey_StableAndSensitive(t *testing.T) {
	t.Parallel()

	a := EventDedupKey(ServiceTwilio, "SM123", "delivery_report", []byte(`{"s":"delivered"}`))
	b := EventDedupKey(ServiceTwilio, "SM123", "delivery_report", []byte(`{"s":"delivered"}`))
	if a != b {
		t.Fatalf("identical inputs must produce identical keys: %s vs %s", a, b)
	}

	variants := []string{
		EventDedupKey(ServiceVonage, "SM123", "delivery_report", []byte(`{"s":"delivered"}`)),
		EventDedupKey(ServiceTwilio, "SM124", "delivery_report", []byte(`{"s":"delivered"}`)),
		EventDedupKey(ServiceTwilio, "SM123", "inbound", []byte(`{"s":"delivered"}`)),
		EventDedupKey(ServiceTwilio, "SM123", "delivery_report", []byte(`{"s":"failed"}`)),
	}
	for i, v := range variants {
		if v == a {
			t.Fatalf("variant %d collided with base key", i)
		}
	}
}

func TestEventDedupKey_FieldBoundaries(t *testing.T) {
	t.Parallel()

	// "ab"+"c" and "a"+"bc" must not collapse into the same key.
	a := EventDedupKey(ServiceNoop, "ab", "c", nil)
	b := EventDedupKey(ServiceNoop, "a", "bc", nil)
	if a == b {
		t.Fatalf("field boundaries are not preserved")
	}
}
