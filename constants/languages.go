package constants

type LanguageType string

const (
	LanguagePython LanguageType = "python"
	LanguageGo     LanguageType = "go"
)
