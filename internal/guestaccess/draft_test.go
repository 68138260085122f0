package guestaccess

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_AcceptsStringsAndNumbers(t *testing.T) {
	var got struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"X1","b":12345678,"c":null}`), &got))

	assert.Equal(t, ID("X1"), got.A)
	assert.Equal(t, ID("12345678"), got.B)
	assert.Equal(t, ID(""), got.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":{}}`), &got))
}

func TestVerification_Decoding(t *testing.T) {
	cases := map[string]Verification{
		`0`:         VerificationPending,
		`1`:         VerificationVerified,
		`true`:      VerificationVerified,
		`false`:     VerificationPending,
		`"1"`:       VerificationVerified,
		`2`:         Verification(2),
		`"expired"`: VerificationUnknown,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			var v Verification
			require.NoError(t, json.Unmarshal([]byte(raw), &v))
			assert.Equal(t, want, v)
		})
	}

	assert.False(t, Verification(2).IsVerified())
	assert.False(t, Verification(2).IsPending())
	assert.Equal(t, "unrecognized(2)", Verification(2).String())
}

func TestNewGuest_NormalizeAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	g := NewGuest{
		Name:          "  Ana ",
		DepartureDate: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		AllowedRooms:  []string{"r1", " ", "r1", "r2 "},
	}
	g.Normalize()

	assert.Equal(t, "Ana", g.Name)
	assert.Equal(t, []string{"r1", "r2"}, g.AllowedRooms)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), g.DepartureDate)
	assert.NoError(t, g.Validate(now), "departing today is allowed")

	g.DepartureDate = now.AddDate(0, 0, -1)
	g.Normalize()
	var verr *ValidationError
	require.ErrorAs(t, g.Validate(now), &verr)
	assert.Equal(t, map[string]string{"departure_date": "must not be in the past"}, verr.Fields)
}

func TestValidationError_ListsFieldsInOrder(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"name":          "is required",
		"allowed_rooms": "select at least one room",
	}}
	assert.Equal(t, "invalid guest: allowed_rooms: select at least one room; name: is required", err.Error())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2026-03-11 ")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", d.Format(DateLayout))

	_, err = ParseDate("11/03/2026")
	assert.Error(t, err)
}
