package output

import (
	"context"
	"strings"

	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/constants"
)

// RedisScheme redis中保存的trace的位置前缀
const RedisScheme = "redis://"

// TraceWriter 保存trace，返回保存的位置
type TraceWriter interface {
	Write(ctx context.Context, trace *backend.BackendTrace, sourcePath string) (string, error)
}

// TraceLoader 根据位置读取保存的trace
type TraceLoader interface {
	Load(ctx context.Context, location string) (*backend.BackendTrace, error)
}

// IsRedisLocation 位置是否指向redis
func IsRedisLocation(location string) bool {
	return strings.HasPrefix(location, RedisScheme)
}

// Store 同时支持保存、读取和列出已保存的trace
type Store interface {
	TraceWriter
	TraceLoader
	List(ctx context.Context) ([]string, error)
}

// NewStore 根据配置创建保存trace的位置
func NewStore(conf config.OutputConfig) Store {
	if conf.Type == constants.RedisOutput {
		return NewRedisStore(conf.RedisAddr, WithPrefix(conf.KeyPrefix), WithTTL(conf.TTL))
	}
	return NewFileStore(conf.Dir)
}

// NewLoader 根据位置选择读取方式，redis://开头的从redis读取，其他当作文件路径
func NewLoader(location string, conf config.OutputConfig) TraceLoader {
	if IsRedisLocation(location) {
		return NewRedisStore(conf.RedisAddr, WithPrefix(conf.KeyPrefix))
	}
	return NewFileStore("")
}
