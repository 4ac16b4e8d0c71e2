package rag

import "strings"

const promptTemplate = "You are a helpful assistant. Use the provided context to answer the user's question accurately.\n\n" +
	"{context}\n\nUser Question: {query}\n\nAnswer: "

const consultationTemplate = "You are a professional and friendly sales consultant. Your task is to advise the customer on products.\n\n" +
	"{context}\n\nCustomer question: {query}\n\n" +
	"Answer in this style:\n" +
	"- Friendly and professional\n" +
	"- Introduce the 2-3 most suitable products\n" +
	"- Compare the strengths of each product\n" +
	"- Give a recommendation based on the customer's needs\n" +
	"- End with a question to better understand what the customer needs\n\n" +
	"Reply in the customer's language:"

func renderPrompt(template, context, query string) string {
	return strings.NewReplacer("{context}", context, "{query}", query).Replace(template)
}
