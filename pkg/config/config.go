package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Option 调整加载行为
type Option func(*options)

type options struct {
	paths    []string
	envFiles []string
	onChange func()
}

// WithPaths 覆盖默认的搜索目录（./config, .）
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// WithEnvFiles 额外加载的 .env 文件，默认 .env
func WithEnvFiles(files ...string) Option {
	return func(o *options) { o.envFiles = files }
}

// WithOnChange 热更新成功后回调（例如调整日志级别、限流参数）
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// LoadAndWatch 约定 config/{service}.yaml，环境变量覆盖：
//
//	QUOTES_SERVICE_HTTP_ADDR 覆盖 http.addr
//	QUOTES_SERVICE_STREAM_APP_ID 覆盖 stream.app_id
func LoadAndWatch(service string, out interface{}, opts ...Option) (*viper.Viper, error) {
	o := options{
		paths:    []string{"./config", "."},
		envFiles: []string{".env"},
	}
	for _, opt := range opts {
		opt(&o)
	}

	// 券商密钥一般放 .env，不存在就跳过
	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err == nil {
			log.Printf("[%s] env loaded from %s", service, f)
		}
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range o.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)
		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		if o.onChange != nil {
			o.onChange()
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

// quotes-service -> QUOTES_SERVICE
func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
