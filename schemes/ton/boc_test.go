package ton

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

// cellBuilder assembles test cells bit by bit and serializes them into a
// single-root bag of cells.
type cellBuilder struct {
	data []byte
	bits int
	refs []*cellBuilder
}

func (b *cellBuilder) uint(v uint64, n int) *cellBuilder {
	for i := n - 1; i >= 0; i-- {
		if b.bits%8 == 0 {
			b.data = append(b.data, 0)
		}
		if v>>uint(i)&1 == 1 {
			b.data[b.bits/8] |= 1 << (7 - b.bits%8)
		}
		b.bits++
	}
	return b
}

func (b *cellBuilder) zeros(n int) *cellBuilder {
	for i := 0; i < n; i++ {
		b.uint(0, 1)
	}
	return b
}

func (b *cellBuilder) stdAddr(a address) *cellBuilder {
	b.uint(2, 2).uint(0, 1).uint(uint64(uint8(a.workchain)), 8)
	for _, x := range a.hash {
		b.uint(uint64(x), 8)
	}
	return b
}

func (b *cellBuilder) varUint(v *big.Int) *cellBuilder {
	raw := v.Bytes()
	b.uint(uint64(len(raw)), 4)
	for _, x := range raw {
		b.uint(uint64(x), 8)
	}
	return b
}

func (b *cellBuilder) ref(c *cellBuilder) *cellBuilder {
	b.refs = append(b.refs, c)
	return b
}

func serializeBoc(t *testing.T, root *cellBuilder) []byte {
	t.Helper()

	var order []*cellBuilder
	index := map[*cellBuilder]int{}
	var walk func(*cellBuilder)
	walk = func(c *cellBuilder) {
		if _, seen := index[c]; seen {
			return
		}
		index[c] = len(order)
		order = append(order, c)
		for _, r := range c.refs {
			walk(r)
		}
	}
	walk(root)
	if len(order) > 255 {
		t.Fatalf("fixture too large: %d cells", len(order))
	}

	var body []byte
	for _, c := range order {
		dataLen := (c.bits + 7) / 8
		d1 := byte(len(c.refs))
		d2 := byte(c.bits/8 + dataLen)
		data := append([]byte(nil), c.data[:dataLen]...)
		if c.bits%8 != 0 {
			data[dataLen-1] |= 1 << (7 - c.bits%8)
		}
		body = append(body, d1, d2)
		body = append(body, data...)
		for _, r := range c.refs {
			body = append(body, byte(index[r]))
		}
	}

	out := []byte{0xb5, 0xee, 0x9c, 0x72}
	out = append(out, 0x01, 0x02)                            // 1-byte cell refs, 2-byte offsets
	out = append(out, byte(len(order)), 1, 0)                // cells, roots, absent
	out = append(out, byte(len(body)>>8), byte(len(body)))   // total cell data size
	out = append(out, 0)                                     // root index
	return append(out, body...)
}

func tAddr(b byte) address {
	var a address
	for i := range a.hash {
		a.hash[i] = b
	}
	return a
}

func friendly(a address) string {
	raw := make([]byte, 36)
	raw[0] = 0x11
	raw[1] = byte(a.workchain)
	copy(raw[2:34], a.hash[:])
	return base64.URLEncoding.EncodeToString(raw)
}

func rawForm(a address) string {
	return fmt.Sprintf("%d:%x", a.workchain, a.hash)
}

type transferSpec struct {
	wallet       address
	jettonWallet address
	recipient    address
	validUntil   uint64
	seqno        uint64
	amount       *big.Int
	walletV3     bool
	inlineBody   bool
}

// buildSignedTransfer serializes a wallet external message forwarding one
// jetton transfer, with a zeroed signature.
func buildSignedTransfer(t *testing.T, spec transferSpec) string {
	t.Helper()

	jetton := &cellBuilder{}
	jetton.uint(jettonTransferOp, 32)
	jetton.uint(12345, 64)
	jetton.varUint(spec.amount)
	jetton.stdAddr(spec.recipient)
	jetton.uint(0, 2)                      // response destination: none
	jetton.uint(0, 1)                      // no custom payload
	jetton.varUint(big.NewInt(1))          // forward TON amount
	jetton.uint(0, 1)                      // forward payload inline

	internal := &cellBuilder{}
	internal.uint(0, 1)                    // int_msg_info
	internal.uint(1, 1).uint(1, 1).uint(0, 1)
	internal.uint(0, 2)                    // source: none
	internal.stdAddr(spec.jettonWallet)
	internal.varUint(big.NewInt(50_000_000))
	internal.uint(0, 1)                    // no extra currencies
	internal.varUint(big.NewInt(0))        // ihr fee
	internal.varUint(big.NewInt(0))        // forward fee
	internal.zeros(64 + 32)                // created_lt, created_at
	internal.uint(0, 1)                    // no state init
	if spec.inlineBody {
		internal.uint(0, 1)
		for i := 0; i < jetton.bits; i++ {
			bit := jetton.data[i/8] >> (7 - i%8) & 1
			internal.uint(uint64(bit), 1)
		}
	} else {
		internal.uint(1, 1).ref(jetton)
	}

	body := &cellBuilder{}
	body.zeros(512)                        // signature
	body.uint(698983191, 32)               // subwallet
	body.uint(spec.validUntil, 32)
	body.uint(spec.seqno, 32)
	if !spec.walletV3 {
		body.uint(0, 8)                    // v4 op: simple send
	}
	body.uint(3, 8)                        // send mode
	body.ref(internal)

	root := &cellBuilder{}
	root.uint(2, 2)                        // ext_in_msg_info
	root.uint(0, 2)                        // source: none
	root.stdAddr(spec.wallet)
	root.varUint(big.NewInt(0))            // import fee
	root.uint(0, 1)                        // no state init
	root.uint(1, 1).ref(body)

	return base64.StdEncoding.EncodeToString(serializeBoc(t, root))
}

func defaultSpec() transferSpec {
	return transferSpec{
		wallet:       tAddr(0xA1),
		jettonWallet: tAddr(0xB2),
		recipient:    tAddr(0xC3),
		validUntil:   1_900_000_000,
		seqno:        7,
		amount:       big.NewInt(10000),
	}
}

func TestParseTonAddress(t *testing.T) {
	a := tAddr(0xA1)

	fromRaw, err := parseTonAddress(rawForm(a))
	if err != nil {
		t.Fatalf("raw form: %v", err)
	}
	fromFriendly, err := parseTonAddress(friendly(a))
	if err != nil {
		t.Fatalf("friendly form: %v", err)
	}
	if !fromRaw.equal(a) || !fromFriendly.equal(a) {
		t.Error("both address forms must resolve to the same account")
	}

	for _, bad := range []string{"", "0:zzzz", "0:ab", "dGVzdA=="} {
		if _, err := parseTonAddress(bad); err == nil {
			t.Errorf("parseTonAddress(%q) must fail", bad)
		}
	}
}

func TestParseExternalMessage(t *testing.T) {
	for name, mutate := range map[string]func(*transferSpec){
		"wallet v4":   func(*transferSpec) {},
		"wallet v3":   func(s *transferSpec) { s.walletV3 = true },
		"inline body": func(s *transferSpec) { s.inlineBody = true },
	} {
		t.Run(name, func(t *testing.T) {
			spec := defaultSpec()
			mutate(&spec)

			raw, err := base64.StdEncoding.DecodeString(buildSignedTransfer(t, spec))
			if err != nil {
				t.Fatalf("decode fixture: %v", err)
			}
			msg, err := parseExternalMessage(raw)
			if err != nil {
				t.Fatalf("parseExternalMessage: %v", err)
			}

			if !msg.wallet.equal(spec.wallet) {
				t.Error("wrong sender wallet")
			}
			if !msg.jettonWallet.equal(spec.jettonWallet) {
				t.Error("wrong jetton wallet")
			}
			if !msg.recipient.equal(spec.recipient) {
				t.Error("wrong jetton recipient")
			}
			if msg.amount.Cmp(spec.amount) != 0 {
				t.Errorf("amount = %s, want %s", msg.amount, spec.amount)
			}
			if msg.seqno != int64(spec.seqno) || msg.validUntil != int64(spec.validUntil) {
				t.Errorf("seqno/validUntil = %d/%d", msg.seqno, msg.validUntil)
			}
		})
	}
}

func TestParseExternalMessageRejectsGarbage(t *testing.T) {
	garbage := make([]byte, 64)
	copy(garbage, []byte{0xb5, 0xee, 0x9c, 0x72})
	for i := 4; i < len(garbage); i++ {
		garbage[i] = byte(i * 37)
	}
	if _, err := parseExternalMessage(garbage); err == nil {
		t.Error("bytes carrying only the BOC magic must not parse")
	}

	if _, err := parseExternalMessage(make([]byte, 64)); err == nil {
		t.Error("zero bytes must not parse")
	}
	if _, err := parseExternalMessage([]byte{0xb5, 0xee}); err == nil {
		t.Error("truncated input must not parse")
	}
}

// checkNode returns an HTTPNode whose jetton wallet resolution either fails
// (empty resolved) or reports the given address.
func checkNode(t *testing.T, resolved string) *HTTPNode {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if resolved == "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "packAddress":
			fmt.Fprint(w, `{"ok":true,"result":"cGFja2Vk"}`)
		case "runGetMethod":
			res := map[string]interface{}{
				"ok": true,
				"result": map[string]interface{}{
					"exit_code": 0,
					"stack": [][]interface{}{
						{"cell", map[string]interface{}{"address": resolved}},
					},
				},
			}
			_ = json.NewEncoder(w).Encode(res)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewHTTPNode(srv.URL, "")
}

func checkPayload(t *testing.T, spec transferSpec) *ExactPayload {
	t.Helper()
	return &ExactPayload{
		SignedBoc: buildSignedTransfer(t, spec),
		Authorization: ExactAuthorization{
			From:         friendly(spec.wallet),
			To:           rawForm(spec.recipient),
			JettonMaster: friendly(tAddr(0xD4)),
			JettonAmount: spec.amount.String(),
			TonAmount:    "50000000",
			ValidUntil:   int64(spec.validUntil),
			Seqno:        int64(spec.seqno),
			QueryID:      "12345",
		},
	}
}

func TestHTTPNodeCheckMessageBindsAuthorization(t *testing.T) {
	node := checkNode(t, "")

	ok, reason, err := node.CheckMessage(context.Background(), checkPayload(t, defaultSpec()))
	if err != nil || !ok {
		t.Fatalf("matching message rejected: ok=%v reason=%q err=%v", ok, reason, err)
	}

	tests := map[string]func(*ExactPayload){
		"sender differs": func(p *ExactPayload) {
			p.Authorization.From = friendly(tAddr(0x77))
		},
		"recipient differs": func(p *ExactPayload) {
			p.Authorization.To = rawForm(tAddr(0x77))
		},
		"amount differs": func(p *ExactPayload) {
			p.Authorization.JettonAmount = "10001"
		},
		"seqno differs": func(p *ExactPayload) {
			p.Authorization.Seqno = 8
		},
		"validity differs": func(p *ExactPayload) {
			p.Authorization.ValidUntil++
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := checkPayload(t, defaultSpec())
			mutate(p)

			ok, reason, err := node.CheckMessage(context.Background(), p)
			if err != nil {
				t.Fatalf("CheckMessage: %v", err)
			}
			if ok || reason == "" {
				t.Error("authorization disagreeing with the signed message must be rejected")
			}
		})
	}
}

func TestHTTPNodeCheckMessageRejectsNonMessages(t *testing.T) {
	node := checkNode(t, "")

	garbage := make([]byte, 64)
	copy(garbage, []byte{0xb5, 0xee, 0x9c, 0x72})
	for i := 4; i < len(garbage); i++ {
		garbage[i] = byte(i * 29)
	}

	for name, boc := range map[string]string{
		"not base64": "%%%",
		"magic only": base64.StdEncoding.EncodeToString(garbage),
		"no magic":   base64.StdEncoding.EncodeToString(make([]byte, 80)),
		"empty":      "",
	} {
		p := checkPayload(t, defaultSpec())
		p.SignedBoc = boc

		ok, reason, err := node.CheckMessage(context.Background(), p)
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if ok || reason == "" {
			t.Errorf("%s: expected rejection with a reason", name)
		}
	}
}

func TestHTTPNodeCheckMessageJettonWalletBinding(t *testing.T) {
	spec := defaultSpec()

	node := checkNode(t, rawForm(spec.jettonWallet))
	ok, reason, err := node.CheckMessage(context.Background(), checkPayload(t, spec))
	if err != nil || !ok {
		t.Fatalf("message targeting the resolved jetton wallet rejected: ok=%v reason=%q err=%v", ok, reason, err)
	}

	node = checkNode(t, rawForm(tAddr(0x55)))
	ok, _, err = node.CheckMessage(context.Background(), checkPayload(t, spec))
	if err != nil {
		t.Fatalf("CheckMessage: %v", err)
	}
	if ok {
		t.Error("message targeting a different jetton wallet must be rejected")
	}
}
