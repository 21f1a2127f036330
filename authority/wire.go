package authority

import "google.golang.org/protobuf/encoding/protowire"

// stringRequest carries a single identifier (field 1).
type stringRequest struct {
	value string
}

func (m *stringRequest) appendWire(b []byte) []byte {
	return appendStringField(b, 1, m.value)
}

func (m *stringRequest) parseWire(b []byte) error {
	return scanFields(b, func(num protowire.Number, _ protowire.Type, payload []byte) error {
		if num == 1 {
			value, err := consumeString(payload)
			if err != nil {
				return err
			}
			m.value = value
		}
		return nil
	})
}

// stringResponse carries a value (field 1) and an error message (field 2).
type stringResponse struct {
	value  string
	errMsg string
}

func (m *stringResponse) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, m.value)
	return appendStringField(b, 2, m.errMsg)
}

func (m *stringResponse) parseWire(b []byte) error {
	return scanFields(b, func(num protowire.Number, _ protowire.Type, payload []byte) error {
		value, err := consumeString(payload)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.value = value
		case 2:
			m.errMsg = value
		}
		return nil
	})
}

// markPaidRequest closes a reservation: reference (field 1), amount as a
// decimal string (field 2).
type markPaidRequest struct {
	reference string
	amount    string
}

func (m *markPaidRequest) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, m.reference)
	return appendStringField(b, 2, m.amount)
}

func (m *markPaidRequest) parseWire(b []byte) error {
	return scanFields(b, func(num protowire.Number, _ protowire.Type, payload []byte) error {
		value, err := consumeString(payload)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.reference = value
		case 2:
			m.amount = value
		}
		return nil
	})
}

// reservationResponse reports a reservation check: exists (field 1), valid
// (field 2), error message (field 3).
type reservationResponse struct {
	exists bool
	valid  bool
	errMsg string
}

func (m *reservationResponse) appendWire(b []byte) []byte {
	b = appendBoolField(b, 1, m.exists)
	b = appendBoolField(b, 2, m.valid)
	return appendStringField(b, 3, m.errMsg)
}

func (m *reservationResponse) parseWire(b []byte) error {
	return scanFields(b, func(num protowire.Number, _ protowire.Type, payload []byte) error {
		switch num {
		case 1, 2:
			value, err := consumeBool(payload)
			if err != nil {
				return err
			}
			if num == 1 {
				m.exists = value
			} else {
				m.valid = value
			}
		case 3:
			value, err := consumeString(payload)
			if err != nil {
				return err
			}
			m.errMsg = value
		}
		return nil
	})
}
