// Package bluebonnet is a retrieval-augmented question answering engine for
// the Texas childcare assistance policy corpus.
//
// It provides the building blocks of a domain-restricted RAG pipeline: chunk
// store clients, LLM providers, retrieval strategies, an LLM-as-judge
// reranker, a citation-aware generator, intent classification, conversational
// query reformulation, and a typed pipeline graph that wires them together.
//
// # Quick Start
//
// Compose a chatbot from providers, an embedding model, and a chunk store:
//
//	llm, _ := resolve.Provider(resolve.Config{Provider: "openai", APIKey: key, Model: "gpt-4o-mini"})
//	emb, _ := resolve.EmbeddingProvider(resolve.EmbeddingConfig{APIKey: key, Model: "text-embedding-3-small"})
//	store, _ := qdrant.New(ctx, "localhost:6334", "childcare_docs")
//
//	bot, err := bluebonnet.New(
//		bluebonnet.WithRetriever(bluebonnet.ModeHybrid, bluebonnet.NewHybridRetriever(store, emb)),
//		bluebonnet.WithReranker(bluebonnet.NewLLMReranker(llm)),
//		bluebonnet.WithGenerator(bluebonnet.NewGenerator(llm)),
//		bluebonnet.WithClassifier(bluebonnet.NewIntentClassifier(llm)),
//	)
//
//	resp, err := bot.Ask(ctx, bluebonnet.Request{Question: "What is CCS?"})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend (chat completion with optional JSON schema)
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [ChunkStore] — read-only dense/keyword/hybrid search over the corpus
//   - [Retriever] — a retrieval strategy (dense, hybrid, keyword, managed, web)
//   - [ConversationStore] — per-thread message history
//
// # Included Implementations
//
// Providers: provider/openaicompat (Groq, OpenAI, and compatible APIs),
// constructed per role by provider/resolve. Stores: store/qdrant (corpus),
// store/pinecone (managed search). Memory: in-process (here), memory/redis,
// memory/sqlite, memory/postgres. Web search: websearch (Brave). Offline
// evaluation: eval.
//
// See cmd/bluebonnet for the server and evaluation CLI.
package bluebonnet
