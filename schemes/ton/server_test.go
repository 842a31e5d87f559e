package ton

import (
	"testing"

	"github.com/t402-io/t402-go/types"
)

func TestTonParsePrice(t *testing.T) {
	s := NewServer(nil)

	tests := []struct {
		name    string
		price   interface{}
		want    string
		wantErr bool
	}{
		{name: "dollar string", price: "$0.25", want: "250000"},
		{name: "int", price: 2, want: "2000000"},
		{name: "whole atomic", price: "0.000001", want: "1"},
		{name: "too precise", price: "0.0000001", wantErr: true},
		{name: "garbage", price: "$ten", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ParsePrice(tc.price, types.NetworkTon)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice: %v", err)
			}
			if got.Amount != tc.want {
				t.Errorf("amount = %q, want %q", got.Amount, tc.want)
			}
			if got.Asset == "" {
				t.Error("default jetton not filled from chain table")
			}
		})
	}

	got, err := s.ParsePrice(map[string]interface{}{"amount": "42", "asset": tonAddr(5)}, types.NetworkTon)
	if err != nil {
		t.Fatalf("ParsePrice money map: %v", err)
	}
	if got.Amount != "42" || got.Asset != tonAddr(5) {
		t.Errorf("money map not passed through: %+v", got)
	}
}

func TestTonEnhanceRequirements(t *testing.T) {
	s := NewServer(nil)

	req := &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: types.NetworkTon,
		Amount:  "10000",
		PayTo:   tonAddr(1),
		Extra:   map[string]interface{}{"decimals": 9},
	}
	kind := &types.SupportedKind{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     types.NetworkTon,
		Extra: map[string]interface{}{
			"decimals": 6,
			"asset":    tonAddr(2),
		},
	}

	out, err := s.EnhanceRequirements(req, kind, nil)
	if err != nil {
		t.Fatalf("EnhanceRequirements: %v", err)
	}
	if out.Extra["decimals"] != 9 {
		t.Errorf("caller extra overwritten: %v", out.Extra["decimals"])
	}
	if out.Extra["asset"] != tonAddr(2) {
		t.Errorf("facilitator extra not merged: %v", out.Extra["asset"])
	}
	if out.Asset == "" {
		t.Error("default asset not filled")
	}
	if out.MaxTimeoutSeconds == 0 {
		t.Error("default timeout not filled")
	}
	if _, ok := req.Extra["asset"]; ok {
		t.Error("EnhanceRequirements mutated the input extra map")
	}
}
