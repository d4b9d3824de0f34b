package messages

// ─── Welcome ─────────────────────────────────────────────────────────────────

const (
	WelcomeSubject = "Спасибо за регистрацию!"
	WelcomeText    = "%s, добро пожаловать!"
	WelcomeHTML    = "<h1>Добро пожаловать, %s!</h1><p>Рады вас видеть!</p>"
)
