package api

import (
	"errors"
	"strings"
)

// Normalize trims text fields in place.
func (r *GenerateRequest) Normalize() {
	r.PostalCode = strings.TrimSpace(r.PostalCode)
	r.Cuisine = strings.TrimSpace(r.Cuisine)
}

// Validate checks the form constraints the submit control enforces before
// anything is sent.
func (r GenerateRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.PostalCode) == "" {
		errs = append(errs, errors.New("postal code is required"))
	}
	if r.NumPeople < 1 {
		errs = append(errs, errors.New("number of people must be at least 1"))
	}
	if r.NumMeals < 1 {
		errs = append(errs, errors.New("number of meals must be at least 1"))
	}
	if strings.TrimSpace(r.Cuisine) == "" {
		errs = append(errs, errors.New("cuisine is required"))
	}
	return errors.Join(errs...)
}

// RequestFromDefaults seeds a generation request from the server defaults.
func RequestFromDefaults(d DefaultConfig) GenerateRequest {
	return GenerateRequest{
		PostalCode:      d.PostalCode,
		NumPeople:       d.NumPeople,
		NumMeals:        d.NumMeals,
		Cuisine:         d.Cuisine,
		Headless:        d.Headless,
		AutoSendDiscord: true,
	}
}
