package validation

import (
	"net"
	"testing"
)

func TestValidateExtractRequestRequiresURL(t *testing.T) {
	r := &ExtractRequest{Fields: []string{"title"}}
	if err := ValidateExtractRequest(r); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestValidateExtractRequestRequiresFieldsOrSchema(t *testing.T) {
	r := &ExtractRequest{URL: "https://example.com"}
	if err := ValidateExtractRequest(r); err == nil {
		t.Fatal("expected error when neither fields nor schema is set")
	}
}

func TestValidateExtractRequestDefaultsTimeout(t *testing.T) {
	r := &ExtractRequest{URL: "https://example.com", Fields: []string{"title"}}
	if err := ValidateExtractRequest(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Options.TimeoutMs != DefaultTimeoutMs {
		t.Errorf("TimeoutMs = %d, want default %d", r.Options.TimeoutMs, DefaultTimeoutMs)
	}
	if r.Options.WaitUntil != "domcontentloaded" {
		t.Errorf("WaitUntil = %q, want domcontentloaded default", r.Options.WaitUntil)
	}
}

func TestValidateExtractRequestRejectsOutOfRangeTimeout(t *testing.T) {
	r := &ExtractRequest{URL: "https://example.com", Fields: []string{"title"}, Options: ExtractOptions{TimeoutMs: 500}}
	if err := ValidateExtractRequest(r); err == nil {
		t.Fatal("expected error for timeout below minimum")
	}
}

func TestValidateExtractRequestRejectsTooManyFields(t *testing.T) {
	fields := make([]string, MaxFieldsCount+1)
	for i := range fields {
		fields[i] = "f"
	}
	r := &ExtractRequest{URL: "https://example.com", Fields: fields}
	if err := ValidateExtractRequest(r); err == nil {
		t.Fatal("expected error for too many fields")
	}
}

func TestParseHTTPURLRejectsNonHTTPScheme(t *testing.T) {
	if _, err := ParseHTTPURL("file:///etc/passwd"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}

func TestCheckSSRFRejectsPrivateAndLoopback(t *testing.T) {
	cases := []string{"127.0.0.1", "10.0.0.5", "192.168.1.1", "169.254.169.254", "::1", "0.0.0.0"}
	for _, ipStr := range cases {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			t.Fatalf("test setup: invalid ip %s", ipStr)
		}
		if err := CheckSSRF("host", []net.IP{ip}); err == nil {
			t.Errorf("expected CheckSSRF to reject %s", ipStr)
		}
	}
}

func TestCheckSSRFAllowsPublicAddress(t *testing.T) {
	ip := net.ParseIP("93.184.216.34") // example.com-range public address
	if err := CheckSSRF("example.com", []net.IP{ip}); err != nil {
		t.Errorf("expected public address to be allowed, got %v", err)
	}
}

func TestCheckSSRFRequiresResolvedAddress(t *testing.T) {
	if err := CheckSSRF("host", nil); err == nil {
		t.Fatal("expected error when no addresses resolved")
	}
}
