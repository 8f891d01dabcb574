package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"testing"
)

const (
	testPriceListID = 5765
	testCategoryID  = 5752
	testContainerID = 2
)

func testParser() *Parser {
	return NewParser(Options{
		PriceListID:           testPriceListID,
		CategoryDescriptionID: testCategoryID,
		CompressedContainerID: testContainerID,
		MaxInflateRatio:       64,
	})
}

// buildFrame frames payload with the smallest length encoding.
func buildFrame(id uint16, payload []byte) []byte {
	var lenType uint16
	switch {
	case len(payload) == 0:
		lenType = 0
	case len(payload) <= 0xFF:
		lenType = 1
	case len(payload) <= 0xFFFF:
		lenType = 2
	default:
		lenType = 3
	}
	return buildFrameLen(id, payload, lenType)
}

// buildFrameLen frames payload with an explicit length encoding.
func buildFrameLen(id uint16, payload []byte, lenType uint16) []byte {
	header := id<<2 | lenType
	out := []byte{byte(header >> 8), byte(header)}
	n := len(payload)
	switch lenType {
	case 1:
		out = append(out, byte(n))
	case 2:
		out = append(out, byte(n>>8), byte(n))
	case 3:
		out = append(out, byte(n>>16), byte(n>>8), byte(n))
	}
	return append(out, payload...)
}

func priceListPayload(items ...ItemPrice) []byte {
	buf := AppendVarInt(nil, uint32(len(items)))
	for _, it := range items {
		buf = AppendVarInt(buf, uint32(it.Gid))
		buf = AppendVarInt(buf, uint32(it.Category))
		buf = AppendVarInt(buf, uint32(len(it.Prices)))
		for _, p := range it.Prices {
			buf = AppendVarLong(buf, uint64(p))
		}
	}
	return buf
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	w.Close()
	return buf.Bytes()
}

func containerFrame(t *testing.T, inner []byte) []byte {
	t.Helper()
	compressed := deflate(t, inner)
	body := AppendVarInt(nil, uint32(len(compressed)))
	body = append(body, compressed...)
	return buildFrame(testContainerID, body)
}

func TestParse_PriceList_ThreeQuantities(t *testing.T) {
	payload := priceListPayload(ItemPrice{
		Gid: 289, Category: 48, Prices: []int64{15000, 140000, 1300000},
	})
	// The wire prefix is fixed by the varint encoding: one item, gid 289,
	// category 48, three prices, first price 15000.
	wantPrefix := []byte{0x01, 0xA1, 0x02, 0x30, 0x03, 0x98, 0x75}
	if !bytes.HasPrefix(payload, wantPrefix) {
		t.Fatalf("payload prefix = %x, want %x", payload[:len(wantPrefix)], wantPrefix)
	}

	res := testParser().Parse(buildFrame(testPriceListID, payload))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	if res.MessageID != testPriceListID {
		t.Errorf("MessageID = %d, want %d", res.MessageID, testPriceListID)
	}
	pl, ok := res.Msg.(PriceList)
	if !ok {
		t.Fatalf("Msg = %T, want PriceList", res.Msg)
	}

	obs := pl.Observations()
	want := []struct {
		qty   int
		price int64
	}{{1, 15000}, {10, 140000}, {100, 1300000}}
	if len(obs) != len(want) {
		t.Fatalf("observations = %d, want %d", len(obs), len(want))
	}
	for i, w := range want {
		o := obs[i]
		if o.ItemGid != 289 || o.Category != 48 || o.Quantity != w.qty || o.Price != w.price {
			t.Errorf("obs[%d] = (%d,%d,%d,%d), want (289,48,%d,%d)",
				i, o.ItemGid, o.Category, o.Quantity, o.Price, w.qty, w.price)
		}
	}
}

func TestParse_PriceList_ZeroPriceSuppressed(t *testing.T) {
	payload := priceListPayload(ItemPrice{
		Gid: 289, Category: 48, Prices: []int64{15000, 0, 1300000},
	})
	res := testParser().Parse(buildFrame(testPriceListID, payload))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	obs := res.Msg.(PriceList).Observations()
	if len(obs) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs))
	}
	if obs[0].Quantity != 1 || obs[0].Price != 15000 {
		t.Errorf("obs[0] = (%d,%d)", obs[0].Quantity, obs[0].Price)
	}
	if obs[1].Quantity != 100 || obs[1].Price != 1300000 {
		t.Errorf("obs[1] = (%d,%d)", obs[1].Quantity, obs[1].Price)
	}
}

func TestObservations_TiersBeyondHundredIgnored(t *testing.T) {
	pl := PriceList{Items: []ItemPrice{{Gid: 7, Category: 1, Prices: []int64{10, 20, 30, 40}}}}
	obs := pl.Observations()
	if len(obs) != 3 {
		t.Fatalf("observations = %d, want 3 (fourth tier ignored)", len(obs))
	}
}

func TestObservations_CountMatchesNonZeroPrices(t *testing.T) {
	pl := PriceList{Items: []ItemPrice{
		{Gid: 1, Category: 1, Prices: []int64{5, 0, 7}},
		{Gid: 2, Category: 1, Prices: []int64{0, 0, 0}},
		{Gid: 3, Category: 2, Prices: []int64{1}},
	}}
	nonZero := 0
	for _, it := range pl.Items {
		for i, p := range it.Prices {
			if i < 3 && p != 0 {
				nonZero++
			}
		}
	}
	if got := len(pl.Observations()); got != nonZero {
		t.Errorf("observations = %d, want %d", got, nonZero)
	}
}

func TestParse_ThreeByteLengthEncoding(t *testing.T) {
	payload := priceListPayload(ItemPrice{Gid: 42, Category: 1, Prices: []int64{100}})
	res := testParser().Parse(buildFrameLen(testPriceListID, payload, 3))
	if !res.OK() {
		t.Fatalf("Parse with 3-byte length: %v", res.Err)
	}
	if _, ok := res.Msg.(PriceList); !ok {
		t.Fatalf("Msg = %T, want PriceList", res.Msg)
	}
}

func TestParse_ZeroLengthEncoding(t *testing.T) {
	res := testParser().Parse(buildFrameLen(9000, nil, 0))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	u, ok := res.Msg.(Unknown)
	if !ok {
		t.Fatalf("Msg = %T, want Unknown", res.Msg)
	}
	if len(u.Payload) != 0 {
		t.Errorf("payload = %d bytes, want 0", len(u.Payload))
	}
}

func TestParse_DeclaredLengthPastEnd(t *testing.T) {
	frame := buildFrame(testPriceListID, make([]byte, 10))
	res := testParser().Parse(frame[:len(frame)-4])
	if res.OK() {
		t.Fatal("expected failure for truncated frame")
	}
	if !errors.Is(res.Err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", res.Err)
	}
}

func TestParse_EmptyAndTinyInputs(t *testing.T) {
	for _, in := range [][]byte{nil, {}, {0x01}} {
		res := testParser().Parse(in)
		if res.OK() {
			t.Errorf("Parse(%x) succeeded, want truncated", in)
		}
		if !errors.Is(res.Err, ErrTruncated) {
			t.Errorf("Parse(%x) err = %v, want ErrTruncated", in, res.Err)
		}
	}
}

func TestParse_UnknownMessage(t *testing.T) {
	body := []byte{0xDE, 0xAD}
	res := testParser().Parse(buildFrame(12345, body))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	u, ok := res.Msg.(Unknown)
	if !ok {
		t.Fatalf("Msg = %T, want Unknown", res.Msg)
	}
	if u.MessageID != 12345 || !bytes.Equal(u.Payload, body) {
		t.Errorf("Unknown = id %d payload %x", u.MessageID, u.Payload)
	}
}

func TestParse_CategoryDescription(t *testing.T) {
	body := AppendVarInt(nil, 48)
	body = append(body, 0x00, 0x04)
	body = append(body, []byte("Bois")...)
	res := testParser().Parse(buildFrame(testCategoryID, body))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	cd, ok := res.Msg.(CategoryDescription)
	if !ok {
		t.Fatalf("Msg = %T, want CategoryDescription", res.Msg)
	}
	if cd.ObjectType != 48 || !cd.HasDescription || cd.Description != "Bois" {
		t.Errorf("CategoryDescription = %+v", cd)
	}
}

func TestParse_CategoryDescription_NoText(t *testing.T) {
	res := testParser().Parse(buildFrame(testCategoryID, AppendVarInt(nil, 12)))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	cd := res.Msg.(CategoryDescription)
	if cd.ObjectType != 12 || cd.HasDescription {
		t.Errorf("CategoryDescription = %+v", cd)
	}
}

func TestParse_CompressedContainer_InnerPriceList(t *testing.T) {
	inner := buildFrame(testPriceListID, priceListPayload(
		ItemPrice{Gid: 289, Category: 48, Prices: []int64{15000}},
	))
	res := testParser().Parse(containerFrame(t, inner))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	// The inner result is returned directly, not the container.
	if res.MessageID != testPriceListID {
		t.Errorf("MessageID = %d, want inner %d", res.MessageID, testPriceListID)
	}
	pl, ok := res.Msg.(PriceList)
	if !ok {
		t.Fatalf("Msg = %T, want PriceList", res.Msg)
	}
	if len(pl.Items) != 1 || pl.Items[0].Gid != 289 {
		t.Errorf("inner price list = %+v", pl)
	}
}

func TestParse_CompressedContainer_InnerGarbage(t *testing.T) {
	res := testParser().Parse(containerFrame(t, []byte{0xFF}))
	if !res.OK() {
		t.Fatalf("Parse: %v", res.Err)
	}
	if _, ok := res.Msg.(Unknown); !ok {
		t.Fatalf("Msg = %T, want Unknown wrapping compressed bytes", res.Msg)
	}
}

func TestParse_DecompressionBomb(t *testing.T) {
	// A megabyte of zeros compresses far below 1/64th of its size.
	res := testParser().Parse(containerFrame(t, make([]byte, 1<<20)))
	if res.OK() {
		t.Fatal("expected bomb failure")
	}
	if !errors.Is(res.Err, ErrDecompressionBomb) {
		t.Errorf("err = %v, want ErrDecompressionBomb", res.Err)
	}
}

func TestParse_EmptyInflate(t *testing.T) {
	res := testParser().Parse(containerFrame(t, nil))
	if res.OK() {
		t.Fatal("expected failure for empty inflated payload")
	}
	if !errors.Is(res.Err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", res.Err)
	}
}

func TestParse_PriceList_TruncatedMidItem(t *testing.T) {
	payload := priceListPayload(ItemPrice{Gid: 289, Category: 48, Prices: []int64{15000, 140000}})
	truncated := payload[:len(payload)-1]
	res := testParser().Parse(buildFrame(testPriceListID, truncated))
	if res.OK() {
		t.Fatal("expected failure for truncated price list")
	}
	if !errors.Is(res.Err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", res.Err)
	}
}

func BenchmarkParse_PriceList(b *testing.B) {
	items := make([]ItemPrice, 50)
	for i := range items {
		items[i] = ItemPrice{Gid: int32(1000 + i), Category: 48, Prices: []int64{15000, 140000, 1300000}}
	}
	frame := buildFrame(testPriceListID, priceListPayload(items...))
	p := testParser()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := p.Parse(frame); !res.OK() {
			b.Fatal(res.Err)
		}
	}
}
