package sftpxfer

import "fmt"

const (
	// DefaultChunkSize is the number of bytes moved per chunk.
	DefaultChunkSize = 65536
	// DefaultConcurrency is the number of chunk sends allowed in flight.
	DefaultConcurrency = 8
)

// Config is shared read-only by every transfer of a Client.
type Config struct {
	ChunkSize   int `mapstructure:"chunk_size"`
	Concurrency int `mapstructure:"concurrency"`
	// QueueDepth is the capacity of the queue between the chunk senders and
	// the ordered writer. Zero uses Concurrency.
	QueueDepth int `mapstructure:"queue_depth"`
}

// DefaultConfig returns a 64 KiB chunk size with 8 concurrent sends.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		Concurrency: DefaultConcurrency,
	}
}

// NewConfig returns a Config with the given chunk size and concurrency.
func NewConfig(chunkSize, concurrency int) Config {
	return Config{ChunkSize: chunkSize, Concurrency: concurrency}
}

// Validate reports whether every field holds a usable value.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("%w: queue depth must not be negative, got %d", ErrInvalidConfig, c.QueueDepth)
	}
	return nil
}
