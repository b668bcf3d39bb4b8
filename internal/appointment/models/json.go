package models

import "encoding/json"

func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		plain
		DurationMinutes int `json:"duration_minutes"`
	}{plain(a), a.DurationMinutes()})
}
