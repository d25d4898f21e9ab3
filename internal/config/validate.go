package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors.
// Returns a slice of error messages (empty if valid).
func (c *Config) Validate() []string {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s: failed %q constraint (got %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if c.Features.EmbyEnabled {
		if c.Emby.Host == "" {
			errs = append(errs, "emby.host: required when features.emby_enabled is set")
		}
		if c.Emby.APIKey == "" {
			errs = append(errs, "emby.api_key: required when features.emby_enabled is set")
		}
	}

	hasTargets := len(c.Push.AniRSS.Groups)+len(c.Push.AniRSS.Private)+
		len(c.Push.Emby.Groups)+len(c.Push.Emby.Private) > 0
	if c.OneBot.URL == "" && hasTargets {
		errs = append(errs, "onebot.url: required when push targets are configured")
	}

	return errs
}
