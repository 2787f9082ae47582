package builtin

// Prompts returns the English system-prompt templates the built-in
// utility endpoints inject (spec.md §4.5 step 7, §6). A deployment with a
// real prompt store can ignore this and supply its own prompt.Repository;
// this is the seed for prompt.NewMemoryRepository when none is configured.
func Prompts() map[string]map[string]string {
	return map[string]map[string]string{
		assistantPromptID: {
			"en": "You are a helpful assistant. Answer the user's most recent message, using the prior conversation turns for context.",
		},
		"builtin.generate_questions": {
			"en": "Read the following text and generate a numbered list of questions a reader might ask about it. Respond with only the questions.",
		},
		"builtin.translate": {
			"en": "Translate the text after the \"---\" separator into the language named before it. Respond with only the translation.",
		},
		"builtin.simplify_text": {
			"en": "Rewrite the following text in simpler language, preserving its meaning. Respond with only the rewritten text.",
		},
		"builtin.generate_article_from_text": {
			"en": "Expand the following notes into a well-organized article. Respond with only the article.",
		},
		"builtin.create_full_article_from_texts": {
			"en": "Synthesize the following numbered source texts into a single coherent article that covers all of them. Respond with only the article.",
		},
		"builtin.batch_file_summaries": {
			"en": "Summarize the following file in two or three sentences. Respond with only the summary.",
		},
	}
}
