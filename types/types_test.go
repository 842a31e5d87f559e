package types

import (
	"encoding/json"
	"testing"
)

func validExactRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           NetworkBase,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
	}
}

func TestPaymentRequirementsValidate_Exact(t *testing.T) {
	req := validExactRequirements()
	if err := req.Validate(); err != nil {
		t.Fatalf("valid requirements rejected: %v", err)
	}

	missing := validExactRequirements()
	missing.Amount = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing amount")
	}

	negative := validExactRequirements()
	negative.Amount = "-5"
	if err := negative.Validate(); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestPaymentRequirementsValidate_Upto(t *testing.T) {
	req := validExactRequirements()
	req.Scheme = SchemeUpto
	req.Amount = ""
	req.MaxAmount = "1000000"
	req.MinAmount = "10000"

	if err := req.Validate(); err != nil {
		t.Fatalf("valid upto requirements rejected: %v", err)
	}

	req.MinAmount = "2000000"
	if err := req.Validate(); err == nil {
		t.Error("expected error when minAmount exceeds maxAmount")
	}

	req.MinAmount = ""
	req.MaxAmount = ""
	if err := req.Validate(); err == nil {
		t.Error("expected error for missing maxAmount")
	}
}

func TestPaymentPayloadValidate(t *testing.T) {
	p := PaymentPayload{
		T402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     NetworkBase,
		Payload:     json.RawMessage(`{"signature":"0x00"}`),
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	p.Payload = nil
	if err := p.Validate(); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestNormalizeNetwork(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"base", NetworkBase},
		{"Base", NetworkBase},
		{"solana", NetworkSolana},
		{"tron", NetworkTron},
		{"ton", NetworkTon},
		{"eip155:8453", "eip155:8453"},
		{"eip155:10", "eip155:10"},
	}
	for _, tt := range tests {
		if got := NormalizeNetwork(tt.in); got != tt.want {
			t.Errorf("NormalizeNetwork(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNetworkTypeOf(t *testing.T) {
	tests := []struct {
		network string
		want    NetworkType
		ok      bool
	}{
		{"eip155:8453", NetworkTypeEVM, true},
		{"base", NetworkTypeEVM, true},
		{NetworkSolana, NetworkTypeSVM, true},
		{"tron:mainnet", NetworkTypeTron, true},
		{"ton:-239", NetworkTypeTon, true},
		{"bitcoin", "", false},
	}
	for _, tt := range tests {
		got, ok := NetworkTypeOf(tt.network)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NetworkTypeOf(%q) = (%q, %v), want (%q, %v)", tt.network, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCaipFamily(t *testing.T) {
	if got := CaipFamily("eip155:8453"); got != "eip155:*" {
		t.Errorf("CaipFamily = %q, want eip155:*", got)
	}
	if got := CaipFamily("tron:nile"); got != "tron:*" {
		t.Errorf("CaipFamily = %q, want tron:*", got)
	}
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	p := &PaymentPayload{
		T402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     NetworkBase,
		Resource:    &Resource{URL: "https://api.example.com/data"},
		Payload:     json.RawMessage(`{"signature":"0xabc","authorization":{"from":"0x1"}}`),
	}

	header, err := EncodePaymentHeader(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Scheme != p.Scheme || decoded.Network != p.Network {
		t.Errorf("round trip changed envelope: %+v", decoded)
	}
	if decoded.Resource == nil || decoded.Resource.URL != p.Resource.URL {
		t.Errorf("round trip lost resource: %+v", decoded.Resource)
	}
	if string(decoded.Payload) != string(p.Payload) {
		t.Errorf("round trip changed inner payload: %s", decoded.Payload)
	}
}

func TestDecodePaymentHeader_Invalid(t *testing.T) {
	if _, err := DecodePaymentHeader(""); err == nil {
		t.Error("expected error for empty header")
	}
	if _, err := DecodePaymentHeader("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := DecodePaymentHeader("bm90IGpzb24="); err == nil {
		t.Error("expected error for non-JSON content")
	}
}

func TestSettlementHeaderRoundTrip(t *testing.T) {
	h := &SettlementHeader{Success: true, TxHash: "0xdeadbeef", NetworkID: NetworkBase, Payer: "0xPayer"}

	encoded, err := EncodeSettlementHeader(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSettlementHeader(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *h {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, h)
	}
}

func TestSettlementFromExtra(t *testing.T) {
	extra := map[string]interface{}{
		"settlement": map[string]interface{}{
			"settleAmount": "50000",
			"usageDetails": map[string]interface{}{
				"unitsConsumed": "5",
				"unitPrice":     "10000",
				"unitType":      "request",
			},
		},
	}

	s, err := SettlementFromExtra(extra)
	if err != nil {
		t.Fatalf("SettlementFromExtra: %v", err)
	}
	if s.SettleAmount != "50000" {
		t.Errorf("settleAmount = %q", s.SettleAmount)
	}
	if s.UsageDetails == nil || s.UsageDetails.UnitType != UnitRequest {
		t.Errorf("usageDetails = %+v", s.UsageDetails)
	}

	if s, err := SettlementFromExtra(map[string]interface{}{}); err != nil || s != nil {
		t.Errorf("expected nil settlement for empty extra, got %+v, %v", s, err)
	}

	bad := map[string]interface{}{
		"settlement": map[string]interface{}{"settleAmount": "1", "usageDetails": map[string]interface{}{"unitType": "parsec"}},
	}
	if _, err := SettlementFromExtra(bad); err == nil {
		t.Error("expected error for unsupported unit type")
	}
}

func TestPaymentErrorKinds(t *testing.T) {
	err := NewHookAbortError("stale verification", nil)
	if err.Kind != KindAbortedByHook {
		t.Errorf("kind = %v", err.Kind)
	}

	chain := NewChainError(ReasonBroadcastFailed, "broadcast rejected", nil)
	if chain.Kind != KindChainError || chain.Code != ReasonBroadcastFailed {
		t.Errorf("chain error = %+v", chain)
	}
}
