package retrieval

import (
	"strings"

	"lawrag/internal/domain"
)

// Separator joins rendered passages in the prompt context.
const Separator = "\n---\n"

// Assemble renders hits as "{text} (Source: {source_id})" in result order.
func Assemble(result domain.RetrievalResult) string {
	var b strings.Builder
	for i, h := range result {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(h.Item.Text)
		b.WriteString(" (Source: ")
		b.WriteString(h.Item.SourceID)
		b.WriteString(")")
	}
	return b.String()
}

const instruction = "Sen bir Türk Vergi Mevzuatı uzmanısın. Yalnızca aşağıdaki KANUN BAĞLAMI içinde yer alan bilgilere dayanarak soruyu TÜRKÇE yanıtla.\n" +
	"Cevabı maddeler halinde yaz ve her maddenin sonunda ilgili kaynağı parantez içinde belirt.\n" +
	"Parantez içindeki (değişiklik, tarih, Kanun numarası) gibi metinleri CEVABA dahil etme.\n\n"

// BuildPrompt constrains the model to the assembled context.
func BuildPrompt(context, question string) string {
	return instruction + "KANUN BAĞLAMI:\n" + context + "\n\nSORU: " + question
}
