// pkg/config/validate.go

package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	version "github.com/hashicorp/go-version"
	"golang.org/x/crypto/ssh"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("unix_username", func(fl validator.FieldLevel) bool {
			return usernameRe.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("version_pin", func(fl validator.FieldLevel) bool {
			return ValidVersionPin(fl.Field().String())
		})
		_ = validate.RegisterValidation("authorized_key", func(fl validator.FieldLevel) bool {
			_, _, _, rest, err := ssh.ParseAuthorizedKey([]byte(fl.Field().String()))
			return err == nil && len(strings.TrimSpace(string(rest))) == 0
		})
	})
	return validate
}

// ValidVersionPin accepts "latest" or anything hashicorp/go-version can parse.
func ValidVersionPin(pin string) bool {
	if pin == "" || pin == VersionLatest {
		return true
	}
	_, err := version.NewVersion(pin)
	return err == nil
}

// Validate checks p against the rules of BootstrapConfig. The first
// missing required field wins over malformed values so the operator fixes
// the most basic problem first.
func Validate(p Params) error {
	err := validatorInstance().Struct(p)
	if err == nil {
		return validateAgentURL(p)
	}

	var verrs validator.ValidationErrors
	if !cerr.As(err, &verrs) {
		return cerr.Wrap(err, "validate configuration")
	}

	var invalid error
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			return &forge_err.MissingRequiredFieldError{Field: fe.Field(), Reason: requiredReason(fe)}
		default:
			if invalid == nil {
				invalid = &forge_err.InvalidFieldError{
					Field:  fe.Field(),
					Value:  displayValue(fe.Field(), fe.Value()),
					Reason: describeTag(fe),
				}
			}
		}
	}
	return invalid
}

func validateAgentURL(p Params) error {
	if p.GitLabURL == "" || AgentPlatform(p.AgentPlatform) != PlatformGitLab {
		return nil
	}
	if err := validatorInstance().Var(p.GitLabURL, "url,startswith=http"); err != nil {
		return &forge_err.InvalidFieldError{Field: "gitlab_url", Value: p.GitLabURL, Reason: "must be an http(s) URL"}
	}
	return nil
}

func requiredReason(fe validator.FieldError) string {
	if fe.Tag() == "required_if" {
		parts := strings.Fields(fe.Param())
		if len(parts) == 2 {
			return fmt.Sprintf("required when agent_platform is %s", parts[1])
		}
	}
	return ""
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "cidr":
		return "must be a CIDR such as 10.0.0.0/8"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	case "unix_username":
		return "must be a valid lowercase unix account name"
	case "version_pin":
		return `must be "latest" or a version such as 1.9.5`
	case "authorized_key":
		return "must be a single OpenSSH public key line"
	}
	return "failed " + fe.Tag() + " check"
}

func displayValue(field string, v interface{}) string {
	if strings.Contains(field, "token") {
		return redactedMarker
	}
	return fmt.Sprint(v)
}
