package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validation failure taxonomy. Handlers answer 400 with the wrapped reason.
var (
	ErrUnknownEvent = errors.New("unknown aopic")
	ErrSchema       = errors.New("not pass validate")
	ErrSignature    = errors.New("not pass sign validate")
)

// Request carries the pieces of the HTTP request the validator needs.
// Sign and Timestamp come from the query string (platform A puts the
// signature there; platform B embeds it in the body).
type Request struct {
	Body      []byte
	Sign      string
	Timestamp string
}

// Validator performs the two-stage (schema, signature) check for every
// registered event code.
type Validator struct {
	taobaoSecret  string
	goofishSecret string
}

func NewValidator(taobaoSecret, goofishSecret string) *Validator {
	return &Validator{taobaoSecret: taobaoSecret, goofishSecret: goofishSecret}
}

// Schemas are compiled once; they carry the required-field contract of each
// provider shape. Typed decoding happens only after the schema accepts.
var (
	taobaoTradeSchema = jsonschema.MustCompileString("taobao_trade_paid.json", `{
		"type": "object",
		"required": ["tid", "seller_nick", "payment", "status"],
		"properties": {
			"tid":         {"type": ["string", "integer"]},
			"seller_nick": {"type": "string", "minLength": 1},
			"payment":     {"type": "string", "minLength": 1},
			"status":      {"type": "string", "minLength": 1}
		}
	}`)

	taobaoRefundSchema = jsonschema.MustCompileString("taobao_refund_created.json", `{
		"type": "object",
		"required": ["tid", "refund_status"],
		"properties": {
			"tid":           {"type": ["string", "integer"]},
			"refund_status": {"type": "string", "minLength": 1},
			"payment":       {"type": "string"}
		}
	}`)

	goofishTradeSchema = jsonschema.MustCompileString("goofish_trade_paid.json", `{
		"type": "object",
		"required": ["tid", "seller_id", "payment", "status", "sign"],
		"properties": {
			"tid":       {"type": ["string", "integer"]},
			"seller_id": {"type": ["string", "integer"]},
			"payment":   {"type": "string", "minLength": 1},
			"status":    {"type": "string", "minLength": 1},
			"sign":      {"type": "string", "minLength": 1}
		}
	}`)

	goofishRefundSchema = jsonschema.MustCompileString("goofish_refund_created.json", `{
		"type": "object",
		"required": ["tid", "seller_id", "refund_status", "sign"],
		"properties": {
			"tid":           {"type": ["string", "integer"]},
			"seller_id":     {"type": ["string", "integer"]},
			"refund_status": {"type": "string", "minLength": 1},
			"sign":          {"type": "string", "minLength": 1}
		}
	}`)
)

// Validate runs unknown-code rejection, the schema stage and the signature
// stage, in that order. Unknown codes are rejected without touching the
// body at all.
func (v *Validator) Validate(code EventCode, req Request) (Payload, error) {
	switch code {
	case EventTaobaoTradePaid, EventTaobaoRefundCreated,
		EventGoofishTradePaid, EventGoofishRefundCreated:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEvent, int(code))
	}

	body, err := DecodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	switch code {
	case EventTaobaoTradePaid:
		return v.taobaoTrade(body, req)
	case EventTaobaoRefundCreated:
		return v.taobaoRefund(body, req)
	case EventGoofishTradePaid:
		return v.goofishTrade(body)
	default:
		return v.goofishRefund(body)
	}
}

func checkSchema(sch *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

func (v *Validator) checkTaobaoSign(body []byte, req Request) error {
	want := SignTaobao(body, req.Timestamp, v.taobaoSecret)
	if !equalSign(want, req.Sign) {
		return ErrSignature
	}
	return nil
}

func (v *Validator) checkGoofishSign(body []byte, sign string) error {
	want, err := SignGoofish(body, v.goofishSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if !equalSign(want, sign) {
		return ErrSignature
	}
	return nil
}

type taobaoTradeBody struct {
	Tid        flexID `json:"tid"`
	SellerNick string `json:"seller_nick"`
	Payment    string `json:"payment"`
	Status     string `json:"status"`
}

func (v *Validator) taobaoTrade(body []byte, req Request) (Payload, error) {
	if err := checkSchema(taobaoTradeSchema, body); err != nil {
		return nil, err
	}
	var in taobaoTradeBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.checkTaobaoSign(body, req); err != nil {
		return nil, err
	}
	return &TradePaid{
		FromPlatform: order.PlatformTaobao,
		Tid:          in.Tid.String(),
		SellerNick:   in.SellerNick,
		Payment:      in.Payment,
		Status:       in.Status,
	}, nil
}

type taobaoRefundBody struct {
	Tid          flexID `json:"tid"`
	RefundStatus string `json:"refund_status"`
	Payment      string `json:"payment"`
}

func (v *Validator) taobaoRefund(body []byte, req Request) (Payload, error) {
	if err := checkSchema(taobaoRefundSchema, body); err != nil {
		return nil, err
	}
	var in taobaoRefundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.checkTaobaoSign(body, req); err != nil {
		return nil, err
	}
	return &RefundCreated{
		FromPlatform: order.PlatformTaobao,
		Tid:          in.Tid.String(),
		RefundStatus: in.RefundStatus,
		Payment:      in.Payment,
	}, nil
}

type goofishTradeBody struct {
	Tid      flexID `json:"tid"`
	SellerID flexID `json:"seller_id"`
	Payment  string `json:"payment"`
	Status   string `json:"status"`
	Sign     string `json:"sign"`
}

func (v *Validator) goofishTrade(body []byte) (Payload, error) {
	if err := checkSchema(goofishTradeSchema, body); err != nil {
		return nil, err
	}
	var in goofishTradeBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.checkGoofishSign(body, in.Sign); err != nil {
		return nil, err
	}
	return &TradePaid{
		FromPlatform: order.PlatformGoofish,
		Tid:          in.Tid.String(),
		SellerID:     in.SellerID.String(),
		Payment:      in.Payment,
		Status:       in.Status,
	}, nil
}

type goofishRefundBody struct {
	Tid          flexID `json:"tid"`
	SellerID     flexID `json:"seller_id"`
	RefundStatus string `json:"refund_status"`
	Sign         string `json:"sign"`
}

func (v *Validator) goofishRefund(body []byte) (Payload, error) {
	if err := checkSchema(goofishRefundSchema, body); err != nil {
		return nil, err
	}
	var in goofishRefundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.checkGoofishSign(body, in.Sign); err != nil {
		return nil, err
	}
	return &RefundCreated{
		FromPlatform: order.PlatformGoofish,
		Tid:          in.Tid.String(),
		RefundStatus: in.RefundStatus,
	}, nil
}
