package ton

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// jettonTransferOp is the TEP-74 transfer opcode.
const jettonTransferOp = 0x0f8a7ea5

// address is a parsed TON account address.
type address struct {
	workchain int8
	hash      [32]byte
}

func (a address) equal(b address) bool {
	return a.workchain == b.workchain && a.hash == b.hash
}

// parseTonAddress accepts the raw "workchain:hex" form and the 48-character
// user-friendly form (base64 or base64url).
func parseTonAddress(s string) (address, error) {
	if wc, hexPart, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.ParseInt(wc, 10, 8)
		if err != nil {
			return address{}, fmt.Errorf("ton: bad workchain in %q", s)
		}
		raw, err := hex.DecodeString(hexPart)
		if err != nil || len(raw) != 32 {
			return address{}, fmt.Errorf("ton: bad account hash in %q", s)
		}
		var a address
		a.workchain = int8(n)
		copy(a.hash[:], raw)
		return a, nil
	}

	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil || len(raw) != 36 {
		return address{}, fmt.Errorf("ton: address %q is not friendly or raw form", s)
	}
	var a address
	a.workchain = int8(raw[1])
	copy(a.hash[:], raw[2:34])
	return a, nil
}

// messageDetails is what verification binds the declared authorization to:
// the fields of the signed wallet message and of the jetton transfer it
// forwards.
type messageDetails struct {
	wallet       address // external message destination: the sender wallet
	validUntil   int64
	seqno        int64
	jettonWallet address // internal message destination
	amount       *big.Int
	recipient    address // jetton transfer destination
}

// parseExternalMessage deserializes a signed wallet external message (v3 or
// v4 layout) carrying a single jetton transfer.
func parseExternalMessage(raw []byte) (*messageDetails, error) {
	root, err := parseBoc(raw)
	if err != nil {
		return nil, err
	}
	s := newSlice(root)

	tag, err := s.readUint(2)
	if err != nil || tag != 2 {
		return nil, fmt.Errorf("ton: not an inbound external message")
	}
	if err := skipExternalAddress(s); err != nil {
		return nil, err
	}
	details := &messageDetails{}
	if details.wallet, err = readStdAddress(s); err != nil {
		return nil, fmt.Errorf("ton: message destination: %w", err)
	}
	if _, err = readVarUint(s); err != nil { // import fee
		return nil, err
	}

	hasInit, err := s.readUint(1)
	if err != nil {
		return nil, err
	}
	if hasInit == 1 {
		inRef, err := s.readUint(1)
		if err != nil {
			return nil, err
		}
		if inRef != 1 {
			return nil, fmt.Errorf("ton: inline state init is not supported")
		}
		if _, err := s.readRef(); err != nil {
			return nil, err
		}
	}

	body := s
	bodyInRef, err := s.readUint(1)
	if err != nil {
		return nil, err
	}
	if bodyInRef == 1 {
		ref, err := s.readRef()
		if err != nil {
			return nil, err
		}
		body = newSlice(ref)
	}

	// Signed wallet body: 512-bit signature, subwallet, valid_until, seqno.
	if err := body.skip(512 + 32); err != nil {
		return nil, fmt.Errorf("ton: body too short for a signed wallet message")
	}
	validUntil, err := body.readUint(32)
	if err != nil {
		return nil, err
	}
	seqno, err := body.readUint(32)
	if err != nil {
		return nil, err
	}
	details.validUntil = int64(validUntil)
	details.seqno = int64(seqno)

	// Wallet v4 inserts an op byte (0 for transfers) before the send mode;
	// v3 goes straight to the mode.
	if body.remaining() >= 16 {
		op, err := body.peekUint(8)
		if err != nil {
			return nil, err
		}
		if op == 0 {
			_, _ = body.readUint(8)
		}
	}
	if _, err := body.readUint(8); err != nil { // send mode
		return nil, err
	}
	internal, err := body.readRef()
	if err != nil {
		return nil, fmt.Errorf("ton: wallet message carries no outgoing message")
	}

	return parseInternalMessage(newSlice(internal), details)
}

// parseInternalMessage walks the forwarded internal message down to the
// jetton transfer body.
func parseInternalMessage(s *slice, details *messageDetails) (*messageDetails, error) {
	tag, err := s.readUint(1)
	if err != nil || tag != 0 {
		return nil, fmt.Errorf("ton: forwarded message is not internal")
	}
	if err := s.skip(3); err != nil { // ihr_disabled, bounce, bounced
		return nil, err
	}
	if err := skipAnyAddress(s); err != nil { // source, filled in by the chain
		return nil, err
	}
	if details.jettonWallet, err = readStdAddress(s); err != nil {
		return nil, fmt.Errorf("ton: internal destination: %w", err)
	}
	if _, err := readVarUint(s); err != nil { // attached TON
		return nil, err
	}
	extra, err := s.readUint(1)
	if err != nil {
		return nil, err
	}
	if extra == 1 {
		if _, err := s.readRef(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ { // ihr fee, forward fee
		if _, err := readVarUint(s); err != nil {
			return nil, err
		}
	}
	if err := s.skip(64 + 32); err != nil { // created_lt, created_at
		return nil, err
	}

	hasInit, err := s.readUint(1)
	if err != nil {
		return nil, err
	}
	if hasInit == 1 {
		inRef, err := s.readUint(1)
		if err != nil {
			return nil, err
		}
		if inRef != 1 {
			return nil, fmt.Errorf("ton: inline state init is not supported")
		}
		if _, err := s.readRef(); err != nil {
			return nil, err
		}
	}

	body := s
	bodyInRef, err := s.readUint(1)
	if err != nil {
		return nil, err
	}
	if bodyInRef == 1 {
		ref, err := s.readRef()
		if err != nil {
			return nil, err
		}
		body = newSlice(ref)
	}

	op, err := body.readUint(32)
	if err != nil || op != jettonTransferOp {
		return nil, fmt.Errorf("ton: message body is not a jetton transfer")
	}
	if err := body.skip(64); err != nil { // query id
		return nil, err
	}
	if details.amount, err = readVarUint(body); err != nil {
		return nil, err
	}
	if details.recipient, err = readStdAddress(body); err != nil {
		return nil, fmt.Errorf("ton: jetton destination: %w", err)
	}
	return details, nil
}

func skipExternalAddress(s *slice) error {
	tag, err := s.readUint(2)
	if err != nil {
		return err
	}
	switch tag {
	case 0:
		return nil
	case 1:
		n, err := s.readUint(9)
		if err != nil {
			return err
		}
		return s.skip(int(n))
	default:
		return fmt.Errorf("ton: unexpected external address tag %d", tag)
	}
}

func skipAnyAddress(s *slice) error {
	tag, err := s.peekUint(2)
	if err != nil {
		return err
	}
	if tag == 2 {
		_, err := readStdAddress(s)
		return err
	}
	return skipExternalAddress(s)
}

func readStdAddress(s *slice) (address, error) {
	tag, err := s.readUint(2)
	if err != nil {
		return address{}, err
	}
	if tag != 2 {
		return address{}, fmt.Errorf("not a standard address (tag %d)", tag)
	}
	anycast, err := s.readUint(1)
	if err != nil {
		return address{}, err
	}
	if anycast != 0 {
		return address{}, fmt.Errorf("anycast addresses are not supported")
	}
	wc, err := s.readUint(8)
	if err != nil {
		return address{}, err
	}
	var a address
	a.workchain = int8(wc)
	for i := 0; i < 32; i++ {
		b, err := s.readUint(8)
		if err != nil {
			return address{}, err
		}
		a.hash[i] = byte(b)
	}
	return a, nil
}

// readVarUint reads a VarUInteger 16 (Grams): 4-bit byte length, then that
// many bytes of big-endian value.
func readVarUint(s *slice) (*big.Int, error) {
	n, err := s.readUint(4)
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	for i := uint64(0); i < n; i++ {
		b, err := s.readUint(8)
		if err != nil {
			return nil, err
		}
		value.Lsh(value, 8)
		value.Or(value, big.NewInt(int64(b)))
	}
	return value, nil
}

// cell is one deserialized bag-of-cells node.
type cell struct {
	data   []byte
	bitLen int
	refs   []*cell
}

// parseBoc deserializes a standard (b5ee9c72) bag of cells and returns its
// first root.
func parseBoc(raw []byte) (*cell, error) {
	if len(raw) < 11 || raw[0] != 0xb5 || raw[1] != 0xee || raw[2] != 0x9c || raw[3] != 0x72 {
		return nil, fmt.Errorf("ton: missing bag-of-cells magic")
	}
	pos := 4

	next := func(n int) ([]byte, error) {
		if pos+n > len(raw) {
			return nil, fmt.Errorf("ton: bag of cells truncated at %d", pos)
		}
		out := raw[pos : pos+n]
		pos += n
		return out, nil
	}
	nextInt := func(n int) (int, error) {
		b, err := next(n)
		if err != nil {
			return 0, err
		}
		v := 0
		for _, x := range b {
			v = v<<8 | int(x)
		}
		return v, nil
	}

	flags, err := nextInt(1)
	if err != nil {
		return nil, err
	}
	hasIdx := flags&0x80 != 0
	hasCrc := flags&0x40 != 0
	size := flags & 0x07
	if size == 0 || size > 4 {
		return nil, fmt.Errorf("ton: bad cell index width %d", size)
	}
	offBytes, err := nextInt(1)
	if err != nil {
		return nil, err
	}

	cellCount, err := nextInt(size)
	if err != nil {
		return nil, err
	}
	rootCount, err := nextInt(size)
	if err != nil {
		return nil, err
	}
	if cellCount == 0 || cellCount > 4096 || rootCount == 0 {
		return nil, fmt.Errorf("ton: implausible cell counts (%d cells, %d roots)", cellCount, rootCount)
	}
	if _, err := nextInt(size); err != nil { // absent
		return nil, err
	}
	if _, err := next(offBytes); err != nil { // total cell data size
		return nil, err
	}
	rootIdx, err := nextInt(size)
	if err != nil {
		return nil, err
	}
	if _, err := next((rootCount - 1) * size); err != nil {
		return nil, err
	}
	if hasIdx {
		if _, err := next(cellCount * offBytes); err != nil {
			return nil, err
		}
	}

	cells := make([]*cell, cellCount)
	refIdx := make([][]int, cellCount)
	for i := 0; i < cellCount; i++ {
		d1, err := nextInt(1)
		if err != nil {
			return nil, err
		}
		d2, err := nextInt(1)
		if err != nil {
			return nil, err
		}
		if d1&8 != 0 {
			return nil, fmt.Errorf("ton: exotic cells are not supported")
		}
		refCount := d1 & 7
		if refCount > 4 {
			return nil, fmt.Errorf("ton: cell %d has %d refs", i, refCount)
		}

		dataLen := (d2 + 1) / 2
		data, err := next(dataLen)
		if err != nil {
			return nil, err
		}
		bitLen := (d2 / 2) * 8
		if d2%2 == 1 {
			// Partial byte: bits up to and excluding the completion tag.
			last := data[dataLen-1]
			if last == 0 {
				return nil, fmt.Errorf("ton: cell %d has a bad completion tag", i)
			}
			extra := 8
			for last&1 == 0 {
				last >>= 1
				extra--
			}
			bitLen += extra - 1
		}

		c := &cell{data: append([]byte(nil), data...), bitLen: bitLen}
		refIdx[i] = make([]int, refCount)
		for j := 0; j < refCount; j++ {
			idx, err := nextInt(size)
			if err != nil {
				return nil, err
			}
			if idx <= i || idx >= cellCount {
				return nil, fmt.Errorf("ton: cell %d has a non-topological ref %d", i, idx)
			}
			refIdx[i][j] = idx
		}
		cells[i] = c
	}
	if hasCrc {
		if _, err := next(4); err != nil {
			return nil, err
		}
	}

	for i, c := range cells {
		for _, idx := range refIdx[i] {
			c.refs = append(c.refs, cells[idx])
		}
	}
	if rootIdx >= cellCount {
		return nil, fmt.Errorf("ton: root index %d out of range", rootIdx)
	}
	return cells[rootIdx], nil
}

// slice is a bit-level reader over one cell.
type slice struct {
	c      *cell
	bitPos int
	refPos int
}

func newSlice(c *cell) *slice {
	return &slice{c: c}
}

func (s *slice) remaining() int {
	return s.c.bitLen - s.bitPos
}

func (s *slice) readUint(n int) (uint64, error) {
	if n > 64 || s.bitPos+n > s.c.bitLen {
		return 0, fmt.Errorf("ton: cell underflow reading %d bits", n)
	}
	var v uint64
	for i := 0; i < n; i++ {
		bit := s.c.data[s.bitPos/8] >> (7 - s.bitPos%8) & 1
		v = v<<1 | uint64(bit)
		s.bitPos++
	}
	return v, nil
}

func (s *slice) peekUint(n int) (uint64, error) {
	saved := s.bitPos
	v, err := s.readUint(n)
	s.bitPos = saved
	return v, err
}

func (s *slice) skip(n int) error {
	if s.bitPos+n > s.c.bitLen {
		return fmt.Errorf("ton: cell underflow skipping %d bits", n)
	}
	s.bitPos += n
	return nil
}

func (s *slice) readRef() (*cell, error) {
	if s.refPos >= len(s.c.refs) {
		return nil, fmt.Errorf("ton: cell has no ref %d", s.refPos)
	}
	ref := s.c.refs[s.refPos]
	s.refPos++
	return ref, nil
}
