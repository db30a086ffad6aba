package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fansqz/trace-debugger/constants"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config 一次trace的全部配置，在入口处解析一次后显式传递
type Config struct {
	// OnDemandTrace 按需生成trace，目前为空实现
	OnDemandTrace bool `yaml:"onDemandTrace" mapstructure:"onDemandTrace"`
	// OutputBackendTrace 是否保存生成的trace
	OutputBackendTrace bool `yaml:"outputBackendTrace" mapstructure:"outputBackendTrace"`
	// WorkDir 临时文件所在目录
	WorkDir string `yaml:"workDir" mapstructure:"workDir"`

	Debugger DebuggerConfig `yaml:"debugger" mapstructure:"debugger"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Frontend FrontendConfig `yaml:"frontend" mapstructure:"frontend"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

type DebuggerConfig struct {
	PythonPath    string        `yaml:"pythonPath" mapstructure:"pythonPath"`
	DlvPath       string        `yaml:"dlvPath" mapstructure:"dlvPath"`
	LaunchTimeout time.Duration `yaml:"launchTimeout" mapstructure:"launchTimeout"`
	// StepTimeout 两次停止之间允许的最长时间，超时后结束调试
	StepTimeout time.Duration `yaml:"stepTimeout" mapstructure:"stepTimeout"`
	// MaxSteps 最多记录的步数
	MaxSteps int `yaml:"maxSteps" mapstructure:"maxSteps"`
	// VariableDepth 变量展开的层数
	VariableDepth int `yaml:"variableDepth" mapstructure:"variableDepth"`
}

type OutputConfig struct {
	Type constants.OutputType `yaml:"type" mapstructure:"type"`
	// Dir 为空时trace保存在源文件旁边
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	RedisAddr string        `yaml:"redisAddr" mapstructure:"redisAddr"`
	KeyPrefix string        `yaml:"keyPrefix" mapstructure:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type FrontendConfig struct {
	Type constants.FrontendType `yaml:"type" mapstructure:"type"`
	// Addr web前端监听地址
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

func Default() *Config {
	return &Config{
		Debugger: DebuggerConfig{
			PythonPath:    "python3",
			DlvPath:       "dlv",
			LaunchTimeout: 30 * time.Second,
			StepTimeout:   10 * time.Second,
			MaxSteps:      1000,
			VariableDepth: 2,
		},
		Output: OutputConfig{
			Type:      constants.FileOutput,
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "trace:",
			TTL:       24 * time.Hour,
		},
		Frontend: FrontendConfig{
			Type: constants.TerminalFrontend,
			Addr: "127.0.0.1:8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 读取yaml配置文件，未设置的字段使用默认值
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// FromSettings 从编辑器风格的松散配置中解析，支持"30s"形式的时间和字符串形式的数字
func FromSettings(settings map[string]interface{}) (*Config, error) {
	conf := Default()
	if err := conf.ApplySettings(settings); err != nil {
		return nil, err
	}
	return conf, nil
}

// ApplySettings 将松散配置合并到当前配置，未出现的字段保持原值
func (c *Config) ApplySettings(settings map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           c,
	})
	if err != nil {
		return err
	}
	if err = decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return c.Validate()
}

// ParseSettings 解析"debugger.maxSteps=20"形式的配置项，点号分隔嵌套字段
func ParseSettings(pairs []string) (map[string]interface{}, error) {
	settings := map[string]interface{}{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", pair)
		}
		parts := strings.Split(key, ".")
		node := settings
		for _, part := range parts[:len(parts)-1] {
			child, exists := node[part]
			if !exists {
				child = map[string]interface{}{}
				node[part] = child
			}
			childMap, isMap := child.(map[string]interface{})
			if !isMap {
				return nil, fmt.Errorf("setting %q conflicts with %q", pair, part)
			}
			node = childMap
		}
		last := parts[len(parts)-1]
		if _, isMap := node[last].(map[string]interface{}); isMap {
			return nil, fmt.Errorf("setting %q conflicts with a nested key", pair)
		}
		node[last] = value
	}
	return settings, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Output.Type {
	case constants.FileOutput, constants.RedisOutput:
	default:
		errs = append(errs, fmt.Errorf("unknown output type %q", c.Output.Type))
	}
	switch c.Frontend.Type {
	case constants.TerminalFrontend, constants.WebFrontend:
	default:
		errs = append(errs, fmt.Errorf("unknown frontend type %q", c.Frontend.Type))
	}
	if c.Debugger.MaxSteps <= 0 {
		errs = append(errs, errors.New("debugger.maxSteps must be positive"))
	}
	if c.Debugger.VariableDepth < 0 {
		errs = append(errs, errors.New("debugger.variableDepth must not be negative"))
	}
	if c.Debugger.LaunchTimeout < 0 || c.Debugger.StepTimeout < 0 {
		errs = append(errs, errors.New("debugger timeouts must not be negative"))
	}
	if c.Output.Type == constants.RedisOutput && c.Output.RedisAddr == "" {
		errs = append(errs, errors.New("output.redisAddr is required for redis output"))
	}
	if c.Frontend.Type == constants.WebFrontend && c.Frontend.Addr == "" {
		errs = append(errs, errors.New("frontend.addr is required for web frontend"))
	}
	return errors.Join(errs...)
}
