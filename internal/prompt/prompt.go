// Package prompt builds the system prompt for the estimator model.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"smartsmeta.app/bot/common/llm"
	"smartsmeta.app/bot/internal/estimate"
)

const header = `Ты — опытный пресейл-инженер IT-компании. Твоя задача — по брифу клиента подготовить смету разработки.

Порядок работы:
1. Если в брифе не хватает информации для оценки, задай уточняющие вопросы (не больше 7, самые важные).
   Ответ: {"status": "need_info", "questions": ["...", "..."]}.
2. Когда информации достаточно, подготовь смету.
   Ответ: {"status": "ready", "result": {...}}.
3. Если после сметы пользователь присылает правки, пересчитай смету целиком с учётом правок и снова верни "ready".

Требования к смете:
- 1–3 варианта реализации (например, MVP и полная версия), у каждого — этапы ("phases") и задачи.
- Для каждой задачи укажи роль и трудоёмкость в часах: hours_min ≤ hours_base ≤ hours_max.
- Используй только роли из списка ставок ниже, названия ролей пиши точно как в списке.
- Не считай стоимость сам — она рассчитывается по ставкам автоматически.
- Перечисли допущения (assumptions), риски (risks) и то, что не входит в объём (out_of_scope).
- Если можешь, оцени срок в неделях (timeline).
`

const footer = `
Отвечай строго одним JSON-объектом без пояснений и без markdown.
JSON Schema ответа:
`

var (
	schemaOnce sync.Once
	schemaJSON string
)

func turnSchema() string {
	schemaOnce.Do(func() {
		raw, err := json.MarshalIndent(llm.GenerateSchema[estimate.TurnResult](), "", "  ")
		if err != nil {
			panic(fmt.Sprintf("prompt: marshal schema: %v", err))
		}
		schemaJSON = string(raw)
	})
	return schemaJSON
}

// Build returns the system prompt with the rate table listed in order.
func Build(rates estimate.Rates) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\nСтавки по ролям (руб/ч):\n")
	for _, r := range rates {
		fmt.Fprintf(&b, "- %s: %d\n", r.Role, r.Rate)
	}
	b.WriteString(footer)
	b.WriteString(turnSchema())
	b.WriteString("\n")
	return b.String()
}
