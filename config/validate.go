// Copyright 2024 dage Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var validate, translator = newValidator()

// messages overrides the default English translations. {0} is the key in the
// config file, {1} the tag parameter and {2} the current value.
var messages = map[string]string{
	"gt":            "value of `{0}` must be greater than {1}, but the current value is {2}",
	"gte":           "value of `{0}` must not be less than {1}, but the current value is {2}",
	"lt":            "value of `{0}` must be less than {1}, but the current value is {2}",
	"lte":           "value of `{0}` must not be greater than {1}, but the current value is {2}",
	"oneof":         "value of `{0}` must be one of [{1}], but the current value is {2}",
	"required":      "value of `{0}` must not be empty",
	"required_with": "value of `{0}` must not be empty",
}

// newValidator reports fields by their keys in the config file.
func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	trans, _ := ut.New(en.New()).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(v, trans); err != nil {
		panic(err)
	}
	for tag, text := range messages {
		if err := v.RegisterTranslation(tag, trans, func(trans ut.Translator) error {
			return trans.Add(tag, text, true)
		}, translate); err != nil {
			panic(err)
		}
	}
	return v, trans
}

func translate(trans ut.Translator, e validator.FieldError) string {
	param := strings.ReplaceAll(e.Param(), " ", ",")
	message, err := trans.T(e.Tag(), configKey(e), param, fmt.Sprint(e.Value()))
	if err != nil {
		return fmt.Sprintf("value of `%s` fails %s", configKey(e), e.Tag())
	}
	return message
}

// configKey drops the root struct name from the namespace.
func configKey(e validator.FieldError) string {
	_, key, _ := strings.Cut(e.Namespace(), ".")
	return strings.ToLower(key)
}

// validateStruct checks validate tags and joins violations into one error.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return errors.Trace(err)
	}
	messages := lo.Map(fieldErrors, func(e validator.FieldError, _ int) string {
		return e.Translate(translator)
	})
	return errors.NotValidf("config: %s", strings.Join(messages, "; "))
}
