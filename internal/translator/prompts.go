package translator

import "fmt"

func systemPrompt(target string) string {
	return fmt.Sprintf("你是一位精通%s的专业翻译。", target)
}

// decisionPrompt asks for a bare True/False answer; anything else parses as false.
func decisionPrompt(text string) string {
	return fmt.Sprintf(`Decide whether the following text extracted from a PDF page should be translated.
Answer False if it is only numbers, symbols, formulas, code, URLs, references, author names,
or is already written in the target language. Otherwise answer True.
Reply with exactly one word: True or False.

Text:
%s`, text)
}

func translatePrompt(target, text string) string {
	return fmt.Sprintf(`Translate the following text into %s.
Keep numbers, formulas, citations and proper nouns unchanged.
Keep the original line breaks where they separate items; merge lines broken only by layout.
Output only the translation, without explanations or quotes.

%s`, target, text)
}
