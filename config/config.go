// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// BridgeConfig is the full configuration of the bridge process.
type BridgeConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path" validate:"required"`

	GeminiConfig   GeminiConfig   `mapstructure:"gemini" validate:"required"`
	AudioConfig    AudioConfig    `mapstructure:"audio" validate:"required"`
	DatabaseConfig DatabaseConfig `mapstructure:"database" validate:"required"`

	// RecordingPath is the directory where call recordings are written.
	RecordingPath string `mapstructure:"recording_path" validate:"required"`
}

// GeminiConfig carries the credential and tuning for the Gemini Live
// connection. The API key comes from the environment only; it is never
// logged or persisted.
type GeminiConfig struct {
	ApiKey string `mapstructure:"api_key" validate:"required"`
	Url    string `mapstructure:"url" validate:"required"`
	Model  string `mapstructure:"model" validate:"required"`
	// Voice is the fallback synthesized voice when the agent does not
	// configure one.
	Voice string `mapstructure:"voice" validate:"required"`
}

// AudioConfig carries the audio-pipeline tuning.
type AudioConfig struct {
	// TelephonyRate is the PCM sample rate of the telephony leg (Hz).
	TelephonyRate int `mapstructure:"telephony_rate" validate:"required"`
	// ModelInputRate is the PCM sample rate Gemini expects inbound (Hz).
	ModelInputRate int `mapstructure:"model_input_rate" validate:"required"`
	// ModelOutputRate is the PCM sample rate Gemini produces (Hz).
	ModelOutputRate int `mapstructure:"model_output_rate" validate:"required"`
	// ChunkBytes is the fixed VAD frame size in bytes. 320 bytes is a 20ms
	// frame of 16-bit mono at 8kHz.
	ChunkBytes int `mapstructure:"chunk_bytes" validate:"required"`
	// VadThreshold is the mean-amplitude speech threshold on a 16-bit scale.
	VadThreshold int `mapstructure:"vad_threshold" validate:"required"`
	// Codec is the telephony payload encoding: slin16, ulaw or alaw.
	Codec string `mapstructure:"codec" validate:"required,oneof=slin16 ulaw alaw"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	Dsn    string `mapstructure:"dsn" validate:"required"`
}

// InitConfig reads configuration from the .env file (or ENV_PATH) and the
// process environment.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "bridge-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "logs")
	v.SetDefault("RECORDING_PATH", "recordings")

	v.SetDefault("GEMINI__API_KEY", "")
	v.SetDefault("GEMINI__URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent")
	v.SetDefault("GEMINI__MODEL", "models/gemini-2.5-flash")
	v.SetDefault("GEMINI__VOICE", "Puck")

	v.SetDefault("AUDIO__TELEPHONY_RATE", 8000)
	v.SetDefault("AUDIO__MODEL_INPUT_RATE", 16000)
	v.SetDefault("AUDIO__MODEL_OUTPUT_RATE", 24000)
	v.SetDefault("AUDIO__CHUNK_BYTES", 320)
	v.SetDefault("AUDIO__VAD_THRESHOLD", 500)
	v.SetDefault("AUDIO__CODEC", "slin16")

	v.SetDefault("DATABASE__DRIVER", "sqlite")
	v.SetDefault("DATABASE__DSN", "bridge.db")
}

// GetBridgeConfig unmarshals and validates the bridge configuration.
func GetBridgeConfig(v *viper.Viper) (*BridgeConfig, error) {
	var config BridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
