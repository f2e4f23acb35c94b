package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/mmcdole/marquee/internal/domain"
)

// ErrNoClinic indicates a payload that names no clinic
var ErrNoClinic = errors.New("payload has no clinic sequence")

// flexString accepts JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type patientDTO struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

func (p patientDTO) toDomain() domain.Patient {
	return domain.Patient{ID: string(p.ID), Name: p.Name}
}

type messageDTO struct {
	Seq       flexString `json:"seq"`
	ClinicSeq flexString `json:"clinicSeq"`
	ID        flexString `json:"id"`
	ClinicID  flexString `json:"clinicId"`

	Name       string `json:"name"`
	ClinicName string `json:"clinicName"`
	Sender     string `json:"sender"`

	ScreenDirection string `json:"screenDirection"`
	Screen          string `json:"screen"`
	Dir             string `json:"dir"`

	Kind           string          `json:"kind"`
	Content        json.RawMessage `json:"content"`
	CurrentPatient *patientDTO     `json:"currentPatient"`
}

type contentDTO struct {
	List  []patientDTO `json:"list"`
	Queue []patientDTO `json:"queue"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// decodeContent accepts a bare array or an object holding "list" or "queue"
func decodeContent(raw json.RawMessage) []domain.Patient {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var list []patientDTO
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
	} else {
		var obj contentDTO
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		list = obj.List
		if list == nil {
			list = obj.Queue
		}
	}

	patients := make([]domain.Patient, 0, len(list))
	for _, p := range list {
		patients = append(patients, p.toDomain())
	}
	return patients
}

// DecodeUpdate decodes a realtime queue message. The clinic sequence is taken
// from seq, clinicSeq, id or clinicId, in that order.
func DecodeUpdate(raw []byte) (domain.QueueUpdate, error) {
	var msg messageDTO
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.QueueUpdate{}, err
	}

	seq := firstNonEmpty(string(msg.Seq), string(msg.ClinicSeq), string(msg.ID), string(msg.ClinicID))
	if seq == "" || seq == "0" {
		return domain.QueueUpdate{}, ErrNoClinic
	}

	update := domain.QueueUpdate{
		Clinic: domain.Clinic{
			Seq:             seq,
			Name:            firstNonEmpty(msg.Name, msg.ClinicName, msg.Sender),
			ScreenDirection: normalizeDirection(firstNonEmpty(msg.ScreenDirection, msg.Screen, msg.Dir)),
			Patients:        decodeContent(msg.Content),
		},
		Kind: msg.Kind,
	}
	if msg.CurrentPatient != nil {
		p := msg.CurrentPatient.toDomain()
		update.CurrentPatient = &p
	}
	return update, nil
}

type clinicDTO struct {
	Seq        flexString `json:"seq"`
	ClinicSeq  flexString `json:"clinicSeq"`
	ID         flexString `json:"id"`
	Name       string     `json:"name"`
	ClinicName string     `json:"clinicName"`
	DoctorName string     `json:"doctorName"`

	ScreenDirection string `json:"screenDirection"`
	Direction       string `json:"direction"`

	Patients       []patientDTO `json:"patients"`
	Content        []patientDTO `json:"content"`
	CurrentPatient *patientDTO  `json:"currentPatient"`
}

// DecodeRoster decodes a clinic roster response: a bare array or {"clinics": [...]}.
// Clinics without a sequence are numbered by position starting at 1.
func DecodeRoster(raw []byte) ([]domain.Clinic, error) {
	raw = bytes.TrimSpace(raw)
	var list []clinicDTO
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
	} else {
		var wrapper struct {
			Clinics []clinicDTO `json:"clinics"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, err
		}
		list = wrapper.Clinics
	}

	clinics := make([]domain.Clinic, 0, len(list))
	for i, c := range list {
		seq := firstNonEmpty(string(c.Seq), string(c.ClinicSeq), string(c.ID))
		if seq == "" {
			seq = strconv.Itoa(i + 1)
		}
		patients := c.Patients
		if patients == nil {
			patients = c.Content
		}
		clinic := domain.Clinic{
			Seq:             seq,
			Name:            firstNonEmpty(c.Name, c.ClinicName, c.DoctorName),
			ScreenDirection: normalizeDirection(firstNonEmpty(c.ScreenDirection, c.Direction)),
			Patients:        make([]domain.Patient, 0, len(patients)),
		}
		for _, p := range patients {
			clinic.Patients = append(clinic.Patients, p.toDomain())
		}
		if c.CurrentPatient != nil {
			p := c.CurrentPatient.toDomain()
			clinic.CurrentPatient = &p
		}
		clinics = append(clinics, clinic)
	}
	return clinics, nil
}

// normalizeDirection maps any value to "L" or "R"; empty stays empty
func normalizeDirection(d string) string {
	switch strings.ToUpper(strings.TrimSpace(d)) {
	case "":
		return ""
	case "R":
		return "R"
	default:
		return "L"
	}
}
