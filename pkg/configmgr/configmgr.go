package configmgr

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultConfigBaseName = "property"

// LoadConfigForEnv - read property[-<env>].yaml from the working directory.
func LoadConfigForEnv(config Config) error {
	return ReadConfiguration(getEnvPropertyFileName(defaultConfigBaseName), config)
}

// LoadConfigFromPathForEnv - search the property-<ENV> properties in the given search path (for ex. "./config" )
func LoadConfigFromPathForEnv(searchPath string, config Config) error {
	if searchPath == "" {
		return LoadConfigForEnv(config)
	}

	searchPath = strings.TrimSuffix(searchPath, "/")

	return ReadConfiguration(getEnvPropertyFileName(fmt.Sprintf("%s/%s", searchPath, defaultConfigBaseName)), config)
}

// ReadConfiguration reads the configuration from the yaml file, then applies
// environment overrides: "database.host" is overridden by DATABASE_HOST.
// A missing file is not an error; the configuration then comes from the
// environment only.
//
// Each call uses its own viper instance, so values never leak between loads.
func ReadConfiguration(configFilePath string, config Config) error {
	v := viper.New()
	v.SetConfigFile(configFilePath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err == nil {
		log.Printf("Reading configuration from config file: %s. Environment variables OVERRIDE these values.", configFilePath)
	} else {
		log.Printf("No configuration file found at %s, reading configuration from environment variables.", configFilePath)
	}

	if err := v.Unmarshal(config); err != nil {
		return errors.Wrap(err, "unable to decode into config struct")
	}

	return nil
}

func getEnvPropertyFileName(baseFileName string) string {
	env := os.Getenv("ENVIRONMENT")
	if !checkIfLocalEnv(env) {
		return fmt.Sprintf("%s-%s.yaml", baseFileName, strings.ToLower(env))
	}

	return fmt.Sprintf("%s.yaml", baseFileName)
}

// checkIfLocalEnv - every environment other than DEV, STAGE and PROD is local.
func checkIfLocalEnv(env string) bool {
	switch strings.ToUpper(env) {
	case "DEV", "STAGE", "PROD":
		return false
	default:
		return true
	}
}
