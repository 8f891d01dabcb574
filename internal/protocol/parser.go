package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrDecompressionBomb flags a container whose inflated size exceeds the
// configured multiple of its compressed size.
var ErrDecompressionBomb = errors.New("decompression ratio exceeded")

// Options configures the parser's dispatch table and limits. The message
// IDs are deliberately not hard-coded: they track the game client's
// protocol build and are supplied by configuration.
type Options struct {
	PriceListID           uint16
	CategoryDescriptionID uint16
	CompressedContainerID uint16
	MaxInflateRatio       int
}

// Parser frames and decodes candidate protocol payloads. It is stateless
// across calls; each input is one candidate frame.
type Parser struct {
	opts Options
}

// NewParser builds a parser. A zero MaxInflateRatio defaults to 64.
func NewParser(opts Options) *Parser {
	if opts.MaxInflateRatio <= 0 {
		opts.MaxInflateRatio = 64
	}
	return &Parser{opts: opts}
}

// Parse frames payload and decodes the message it carries.
//
// The first two bytes form a big-endian header: the upper 14 bits are the
// message ID, the lower 2 bits the byte width of the payload length that
// follows (0 = no payload, 3 = a 24-bit length).
func (p *Parser) Parse(payload []byte) ParseResult {
	res := ParseResult{Raw: payload, ParsedAt: time.Now()}

	r := NewReader(payload)
	header, err := r.ReadUnsignedShort()
	if err != nil {
		res.Err = fmt.Errorf("header: %w", err)
		return res
	}
	res.MessageID = header >> 2

	length, err := readPayloadLength(r, header&0x3)
	if err != nil {
		res.Err = fmt.Errorf("payload length: %w", err)
		return res
	}
	if length > r.Remaining() {
		res.Err = fmt.Errorf("%w: declared %d bytes, %d remain", ErrTruncated, length, r.Remaining())
		return res
	}
	body, _ := r.ReadBytes(length)

	switch res.MessageID {
	case p.opts.PriceListID:
		msg, err := parsePriceList(body, res.ParsedAt)
		if err != nil {
			res.Err = err
			return res
		}
		res.Msg = msg
	case p.opts.CategoryDescriptionID:
		msg, err := parseCategoryDescription(body)
		if err != nil {
			res.Err = err
			return res
		}
		res.Msg = msg
	case p.opts.CompressedContainerID:
		return p.parseContainer(res, body)
	default:
		res.Msg = Unknown{MessageID: res.MessageID, Payload: body}
	}
	return res
}

func readPayloadLength(r *Reader, lenType uint16) (int, error) {
	switch lenType {
	case 0:
		return 0, nil
	case 1:
		v, err := r.ReadUnsignedByte()
		return int(v), err
	case 2:
		v, err := r.ReadUnsignedShort()
		return int(v), err
	default: // 3: high byte then low short
		hi, err := r.ReadUnsignedByte()
		if err != nil {
			return 0, err
		}
		lo, err := r.ReadUnsignedShort()
		if err != nil {
			return 0, err
		}
		return int(hi)<<16 | int(lo), nil
	}
}

func parsePriceList(body []byte, receivedAt time.Time) (PriceList, error) {
	r := NewReader(body)
	count, err := r.ReadVarInt()
	if err != nil {
		return PriceList{}, fmt.Errorf("item count: %w", err)
	}
	pl := PriceList{ReceivedAt: receivedAt}
	for i := int32(0); i < count; i++ {
		var ip ItemPrice
		if ip.Gid, err = r.ReadVarInt(); err != nil {
			return PriceList{}, fmt.Errorf("item %d gid: %w", i, err)
		}
		if ip.Category, err = r.ReadVarInt(); err != nil {
			return PriceList{}, fmt.Errorf("item %d category: %w", i, err)
		}
		priceCount, err := r.ReadVarInt()
		if err != nil {
			return PriceList{}, fmt.Errorf("item %d price count: %w", i, err)
		}
		for j := int32(0); j < priceCount; j++ {
			price, err := r.ReadVarLong()
			if err != nil {
				return PriceList{}, fmt.Errorf("item %d price %d: %w", i, j, err)
			}
			ip.Prices = append(ip.Prices, price)
		}
		pl.Items = append(pl.Items, ip)
	}
	return pl, nil
}

func parseCategoryDescription(body []byte) (CategoryDescription, error) {
	r := NewReader(body)
	objectType, err := r.ReadVarInt()
	if err != nil {
		return CategoryDescription{}, fmt.Errorf("object type: %w", err)
	}
	cd := CategoryDescription{ObjectType: objectType}
	if r.HasRemaining() {
		desc, err := r.ReadUTF()
		if err != nil {
			return CategoryDescription{}, fmt.Errorf("description: %w", err)
		}
		cd.Description = desc
		cd.HasDescription = true
	}
	return cd, nil
}

// parseContainer inflates the wrapped payload and reparses it. On a clean
// inner parse the inner result is returned directly; if the inner bytes do
// not frame, the compressed payload is surfaced as an Unknown message.
func (p *Parser) parseContainer(res ParseResult, body []byte) ParseResult {
	r := NewReader(body)
	compressed, err := r.ReadByteArray()
	if err != nil {
		res.Err = fmt.Errorf("container payload: %w", err)
		return res
	}
	inflated, err := p.inflate(compressed)
	if err != nil {
		res.Err = err
		return res
	}
	inner := p.Parse(inflated)
	if inner.OK() {
		return inner
	}
	res.Msg = Unknown{MessageID: res.MessageID, Payload: compressed}
	return res
}

func (p *Parser) inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib header: %v", ErrTruncated, err)
	}
	defer zr.Close()

	limit := int64(p.opts.MaxInflateRatio) * int64(len(compressed))
	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrTruncated, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: inflated past %dx of %d compressed bytes", ErrDecompressionBomb, p.opts.MaxInflateRatio, len(compressed))
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: container inflated to zero bytes", ErrTruncated)
	}
	return out.Bytes(), nil
}
