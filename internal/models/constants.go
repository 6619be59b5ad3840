package models

const (
	// VectorSize is the embedding dimensionality shared by the store schema
	// and every embedder. Query and stored vectors must agree on it or
	// similarity scores are meaningless.
	VectorSize = 768

	SectionSeparator = "\n\n"
)

var (
	RAGSystemPromptTemplate = `You are a helpful AI assistant that answers questions based on the provided documents.
Use the information from the documents below to answer questions accurately and helpfully.
If the documents contain relevant information, provide a clear and concise answer.
If the documents don't contain enough information to fully answer the question, say what you can based on the documents and indicate if more information might be needed.
Keep your responses conversational and helpful.

Documents:
%s`

	NoDocumentsSystemPrompt = `You are a helpful AI assistant. However, no documents were found in the database. Please let the user know that they need to upload documents first to use this chat feature.`
)
