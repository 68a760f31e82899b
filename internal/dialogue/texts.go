package dialogue

import (
	"fmt"
	"strings"

	"smartsmeta.app/bot/internal/estimate"
)

const (
	welcomeText = "Привет! Я SmartSmeta — бот для генерации IT-смет.\n\n"
	startHint   = "\n\nОтправь бриф, чтобы начать."

	resetText       = "Начинаем заново. Отправь бриф нового проекта."
	cancelText      = "Диалог отменён. Отправь /new чтобы начать заново."
	endedText       = "Диалог завершён. Отправь /new чтобы начать новую смету."
	upstreamText    = "Произошла ошибка при обращении к GPT. Попробуйте ещё раз."
	rejectedText    = "GPT отклонил запрос. Переформулируйте сообщение или начните заново: /new."
	unexpectedText  = "Неожиданный ответ от GPT. Попробуйте ещё раз или /new."
	internalText    = "Что-то пошло не так. Попробуйте ещё раз."
	questionsHeader = "У меня есть уточняющие вопросы:\n\n"
	noQuestionsText = "Нужно больше деталей о проекте. Опишите подробнее, что требуется сделать."
	generatingText  = "Смета готова! Генерирую файлы..."
	renderFailText  = "Ошибка при генерации файлов. Попробуйте ещё раз или /new."
	deliveredText   = "Готово!\n\nМожете написать правки — я пересчитаю смету.\n/new — начать новую смету с чистого листа"

	ratesHeader     = "Текущие ставки:\n"
	rateUsageText   = "Формат: /rate <роль> <ставка>, например /rate QA 3800.\n/rate reset — вернуть ставки по умолчанию."
	ratesResetText  = "Ставки сброшены на значения по умолчанию."
	rateInvalidText = "Ставка должна быть целым неотрицательным числом."
)

func helpText(version string, formats []string) string {
	upper := make([]string, len(formats))
	for i, f := range formats {
		upper[i] = strings.ToUpper(f)
	}
	return "Как пользоваться:\n" +
		"1. Отправь бриф — описание проекта\n" +
		"2. Ответь на уточняющие вопросы\n" +
		"3. Получи смету (" + strings.Join(upper, " + ") + ")\n" +
		"4. Напиши правки — получишь обновлённую смету\n\n" +
		"Команды:\n" +
		"/new — новая смета (сброс диалога)\n" +
		"/rates — текущие ставки по ролям\n" +
		"/rate — изменить ставку роли\n" +
		"/help — эта справка\n" +
		"/cancel — отменить диалог\n\n" +
		"Версия: " + version
}

// questionsText numbers questions from 1, one per line.
func questionsText(questions []string) string {
	if len(questions) == 0 {
		return noQuestionsText
	}
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	return questionsHeader + strings.Join(lines, "\n")
}

func ratesText(rates estimate.Rates) string {
	lines := make([]string, len(rates))
	for i, r := range rates {
		lines[i] = fmt.Sprintf("  %s: %d руб/ч", r.Role, r.Rate)
	}
	return ratesHeader + strings.Join(lines, "\n")
}

func rateSetText(role string, rate int) string {
	return fmt.Sprintf("Ставка %s: %d руб/ч. Новая ставка применится к следующему ответу.", role, rate)
}
