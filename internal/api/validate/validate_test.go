package validate

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":     "254712345678",
		"0112345678":     "254112345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		" 0712345678 ":   "254712345678",
		"712345678":      "712345678", // left alone, Phone() rejects it
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPhone(t *testing.T) {
	if e := Phone("phone", "254712345678"); e != nil {
		t.Errorf("valid phone rejected: %v", e)
	}
	if e := Phone("phone", "254112345678"); e != nil {
		t.Errorf("valid 01xx phone rejected: %v", e)
	}
	for _, bad := range []string{"", "0712345678", "25471234567", "2547123456789", "254912345678"} {
		if e := Phone("phone", bad); e == nil {
			t.Errorf("Phone(%q) accepted, want rejection", bad)
		}
	}
}

func TestErrsError(t *testing.T) {
	errs := Errs{{Field: "amount", Msg: "must be >= 1"}, {Field: "phone", Msg: "required"}}
	want := "amount: must be >= 1; phone: required"
	if errs.Error() != want {
		t.Fatalf("Error() = %q, want %q", errs.Error(), want)
	}
}

func TestOneOf(t *testing.T) {
	if e := OneOf("payment_method", "cash", "cash", "bank_transfer"); e != nil {
		t.Errorf("cash rejected: %v", e)
	}
	if e := OneOf("payment_method", "mpesa", "cash", "bank_transfer"); e == nil {
		t.Error("mpesa accepted for manual methods")
	}
}
