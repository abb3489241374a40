package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"zkrollup-witness/log"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
)

func loadDefault(defaultValues string, cfg interface{}) error {
	if _, err := toml.Decode(defaultValues, cfg); err != nil {
		return err
	}
	return nil
}

func loadFile(path string, cfg interface{}) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	cfgToml := string(bs)
	if _, err := toml.Decode(cfgToml, cfg); err != nil {
		return err
	}
	return nil
}

func loadEnv(cfg interface{}) error {
	if err := env.Parse(cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is the function that loads the configuration
func LoadConfig(filePath string, defaultValues string, cfg interface{}) error {
	//Get default configuration
	if err := loadDefault(defaultValues, cfg); err != nil {
		return fmt.Errorf("error loading default configuration: %w", err)
	}
	// Get file configuration
	var errLoadFile error
	if filePath != "" {
		errLoadFile = loadFile(filePath, cfg)
	}
	// Overwrite file configuration with the env configuration
	errLoadEnv := loadEnv(cfg)
	if errLoadFile != nil {
		return fmt.Errorf("error loading configuration file: %w", errLoadFile)
	}
	if errLoadEnv != nil {
		return fmt.Errorf("error loading environment variables: %w", errLoadEnv)
	}
	return nil
}

// structToMapNode flattens the non zero fields of the struct into a map
// keyed by "Section.Field::ENV_VAR"
func structToMapNode(item interface{}, prevTags string) map[string]interface{} {
	res := map[string]interface{}{}
	if item == nil {
		return res
	}
	v := reflect.TypeOf(item)
	reflectValue := reflect.ValueOf(item)
	reflectValue = reflect.Indirect(reflectValue)

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	for i := 0; i < v.NumField(); i++ {
		tag := v.Field(i).Name
		if prevTags != "" {
			tag = prevTags + "." + tag
		}
		field := reflectValue.Field(i)
		if v.Field(i).Type.Kind() == reflect.Struct {
			for k, fv := range structToMapNode(field.Interface(), tag) {
				res[k] = fv
			}
			continue
		}
		if !field.IsZero() {
			res[tag+"::"+v.Field(i).Tag.Get("env")] = field.Interface()
		}
	}
	return res
}

// logParams prints the configured parameters at debug level
func logParams(cfg interface{}) {
	for k, v := range structToMapNode(cfg, "") {
		log.Debugw("config parameter", "key", k, "value", v)
	}
}
