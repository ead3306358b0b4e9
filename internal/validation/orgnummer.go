// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// Весовые коэффициенты контрольной суммы по модулю 11 для organisasjonsnummer.
var orgNumberWeights = [...]int{3, 2, 7, 6, 5, 4, 3, 2}

// IsValidOrganizationNumber проверяет корректность девятизначного номера
// организации по контрольной сумме по модулю 11.
func IsValidOrganizationNumber(number string) bool {
	if len(number) != 9 {
		return false
	}

	sum := 0
	for i, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
		if i < len(orgNumberWeights) {
			sum += int(ch-'0') * orgNumberWeights[i]
		}
	}

	control := 11 - sum%11
	if control == 11 {
		control = 0
	}
	if control == 10 {
		return false
	}

	return control == int(number[8]-'0')
}
