package payment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// DecodeSnapshot parses the backend payment resource. Both the bare object and
// the {"data": {...}} envelope are accepted.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := decodeSnapshotObj(jx.DecodeBytes(data), &s, true); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if s.PaymentID == "" {
		return nil, errors.New("decode snapshot: missing payment_id")
	}
	if !s.Status.Valid() {
		return nil, errors.Errorf("decode snapshot: unknown status %q", s.Status)
	}
	return &s, nil
}

func decodeSnapshotObj(d *jx.Decoder, s *Snapshot, root bool) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "data":
			if !root || d.Next() != jx.Object {
				return d.Skip()
			}
			return decodeSnapshotObj(d, s, false)
		case "payment_id", "id":
			v, err := decodeString(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			s.PaymentID = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "status")
			}
			s.Status = Status(v)
		case "expires_at":
			t, err := decodeOptionalTime(d)
			if err != nil {
				return errors.Wrap(err, "expires_at")
			}
			s.ExpiresAt = t
		case "updated_at":
			t, err := decodeOptionalTime(d)
			if err != nil {
				return errors.Wrap(err, "updated_at")
			}
			if t != nil {
				s.UpdatedAt = *t
			}
		case "amount", "amount_cents":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, key)
			}
			s.AmountCents = v
		case "currency":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "currency")
			}
			s.Currency = v
		case "crypto":
			if d.Next() == jx.Null {
				return d.Null()
			}
			c, err := decodeCrypto(d)
			if err != nil {
				return errors.Wrap(err, "crypto")
			}
			s.Crypto = c
		case "payable":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p, err := decodePayable(d)
			if err != nil {
				return errors.Wrap(err, "payable")
			}
			s.Payable = p
		default:
			return d.Skip()
		}
		return nil
	})
}

func decodeCrypto(d *jx.Decoder) (*Crypto, error) {
	var c Crypto
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "currency":
			c.Currency, err = decodeString(d)
		case "network":
			c.Network, err = decodeString(d)
		case "amount":
			c.Amount, err = decodeString(d)
		case "payment_address":
			c.PaymentAddress, err = decodeString(d)
		case "payment_uri":
			c.PaymentURI, err = decodeString(d)
		case "transaction_hash":
			c.TransactionHash, err = decodeString(d)
		case "blockchain_url":
			c.BlockchainURL, err = decodeString(d)
		case "confirmations":
			c.Confirmations, err = decodeInt(d)
		case "required_confirmations":
			c.RequiredConfirmations, err = decodeInt(d)
		case "min_confirmations":
			c.MinConfirmations, err = decodeInt(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func decodePayable(d *jx.Decoder) (*Payable, error) {
	var p Payable
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			p.Name, err = decodeString(d)
		case "interval":
			p.Interval, err = decodeString(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// decodeString accepts strings, numbers (kept verbatim) and null.
func decodeString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return d.Str()
	}
}

func decodeInt(d *jx.Decoder) (int, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int()
}

func decodeOptionalTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EncodeSnapshot writes s in the same schema DecodeSnapshot reads.
func EncodeSnapshot(s *Snapshot) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("payment_id")
	e.Str(s.PaymentID)
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("expires_at")
	if s.ExpiresAt != nil {
		e.Str(s.ExpiresAt.UTC().Format(time.RFC3339Nano))
	} else {
		e.Null()
	}
	e.FieldStart("amount")
	e.Int64(s.AmountCents)
	e.FieldStart("currency")
	e.Str(s.Currency)
	e.FieldStart("crypto")
	if c := s.Crypto; c != nil {
		e.ObjStart()
		e.FieldStart("currency")
		e.Str(c.Currency)
		e.FieldStart("network")
		e.Str(c.Network)
		e.FieldStart("amount")
		e.Str(c.Amount)
		e.FieldStart("payment_address")
		e.Str(c.PaymentAddress)
		e.FieldStart("payment_uri")
		e.Str(c.PaymentURI)
		e.FieldStart("transaction_hash")
		e.Str(c.TransactionHash)
		e.FieldStart("blockchain_url")
		e.Str(c.BlockchainURL)
		e.FieldStart("confirmations")
		e.Int(c.Confirmations)
		e.FieldStart("required_confirmations")
		e.Int(c.RequiredConfirmations)
		e.FieldStart("min_confirmations")
		e.Int(c.MinConfirmations)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.FieldStart("payable")
	if p := s.Payable; p != nil {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("interval")
		e.Str(p.Interval)
		e.ObjEnd()
	} else {
		e.Null()
	}
	if !s.UpdatedAt.IsZero() {
		e.FieldStart("updated_at")
		e.Str(s.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	e.ObjEnd()
	return e.Bytes()
}
