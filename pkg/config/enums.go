package config

// ProviderType defines supported chat-completion providers.
type ProviderType string

const (
	// ProviderTypeOpenAI is any OpenAI-compatible HTTPS endpoint.
	ProviderTypeOpenAI ProviderType = "openai"
	// ProviderTypeBedrock is AWS Bedrock ConverseStream.
	ProviderTypeBedrock ProviderType = "bedrock"
)

// IsValid checks if the provider type is valid.
func (t ProviderType) IsValid() bool {
	return t == ProviderTypeOpenAI || t == ProviderTypeBedrock
}

// GraphBackendType defines supported knowledge-graph backends.
type GraphBackendType string

const (
	// GraphBackendMemory is the in-process backend with a snapshot file.
	GraphBackendMemory GraphBackendType = "memory"
	// GraphBackendRedis is the external graph database over Redis.
	GraphBackendRedis GraphBackendType = "redis"
)

// IsValid checks if the graph backend type is valid.
func (t GraphBackendType) IsValid() bool {
	return t == GraphBackendMemory || t == GraphBackendRedis
}
