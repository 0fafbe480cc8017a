package metadata

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
)

const TextCodeUnknownFetchProfile = "UNKNOWN_FETCH_PROFILE"

// FetchProfile names a set of associations that sessions load eagerly while
// the profile is enabled, whatever their declared FetchMode.
type FetchProfile struct {
	Name    string
	Fetches []ProfileFetch
}

// ProfileFetch selects one association of one entity.
type ProfileFetch struct {
	Entity      string
	Association string
}

// Validate checks the declaration without resolving entity names.
func (p FetchProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Fetches, validation.Required),
	)
}

// Includes reports whether the profile fetches association of entity.
func (p *FetchProfile) Includes(entity, association string) bool {
	for _, f := range p.Fetches {
		if f.Entity == entity && f.Association == association {
			return true
		}
	}
	return false
}

// RegisterFetchProfile adds a profile whose fetches all name registered
// entities and associations.
func (r *Registry) RegisterFetchProfile(p FetchProfile) error {
	if verr := errors.FromOzzoValidation(p.Validate(), fmt.Sprintf("invalid fetch profile %q", p.Name)); verr != nil {
		return verr.WithTextCode(TextCodeInvalidMetadata)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.Name]; exists {
		return errors.New(fmt.Sprintf("fetch profile %q is already registered", p.Name), errors.CategoryConflict).
			WithTextCode(TextCodeInvalidMetadata)
	}

	fieldErrs := validation.Errors{}
	for _, f := range p.Fetches {
		key := f.Entity + "." + f.Association
		e, ok := r.entities[f.Entity]
		if !ok {
			fieldErrs[key] = validation.NewError("validation_unknown_entity", fmt.Sprintf("entity %q is not registered", f.Entity))
			continue
		}
		if _, ok := e.Association(f.Association); !ok {
			fieldErrs[key] = validation.NewError("validation_unknown_association", fmt.Sprintf("%s has no association %q", f.Entity, f.Association))
		}
	}
	if len(fieldErrs) > 0 {
		return errors.FromOzzoValidation(fieldErrs, fmt.Sprintf("invalid fetch profile %q", p.Name)).
			WithTextCode(TextCodeInvalidMetadata)
	}

	profile := p
	profile.Fetches = append([]ProfileFetch(nil), p.Fetches...)
	r.profiles[p.Name] = &profile
	return nil
}

// FetchProfile returns the profile registered under name.
func (r *Registry) FetchProfile(name string) (*FetchProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, errors.New(fmt.Sprintf("fetch profile %q is not registered", name), errors.CategoryBadInput).
			WithTextCode(TextCodeUnknownFetchProfile)
	}
	return p, nil
}
