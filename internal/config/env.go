package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
)

// EnvFeeder overlays environment variables onto a configuration struct.
// Each field's `env` tag names the variable suffix; the looked-up variable
// is Prefix + "_" + tag. Unset and empty variables leave the field alone.
type EnvFeeder struct {
	Prefix string
}

// Feed applies matching environment variables to the given struct pointer.
func (f EnvFeeder) Feed(structure any) error {
	inputType := reflect.TypeOf(structure)
	if inputType == nil || inputType.Kind() != reflect.Ptr || inputType.Elem().Kind() != reflect.Struct {
		return errors.New("env feeder requires a struct pointer")
	}
	return f.processStructFields(reflect.ValueOf(structure).Elem())
}

func (f EnvFeeder) processStructFields(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		switch {
		case field.Kind() == reflect.Struct:
			if err := f.processStructFields(field); err != nil {
				return fmt.Errorf("field %s: %w", fieldType.Name, err)
			}
		case field.Kind() == reflect.Ptr && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
			if err := f.processStructFields(field.Elem()); err != nil {
				return fmt.Errorf("field %s: %w", fieldType.Name, err)
			}
		default:
			if err := f.setFieldFromEnv(field, fieldType); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f EnvFeeder) setFieldFromEnv(field reflect.Value, fieldType reflect.StructField) error {
	tag, ok := fieldType.Tag.Lookup("env")
	if !ok {
		return nil
	}
	envName := tag
	if f.Prefix != "" {
		envName = f.Prefix + "_" + tag
	}
	value := os.Getenv(envName)
	if value == "" {
		return nil
	}
	if err := setFromString(field, value); err != nil {
		return fmt.Errorf("env %s: %w", envName, err)
	}
	return nil
}
