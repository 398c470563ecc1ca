package dialogue

import "testing"

func TestExtractName(t *testing.T) {
	tests := []struct {
		text   string
		strict bool
		want   string
		ok     bool
	}{
		{"My name is João", false, "João", true},
		{"meu nome é maria clara", true, "Maria", true},
		{"Oi, me chamo PEDRO!", true, "Pedro", true},
		{"Sou a Luíza", false, "Luíza", true},
		{"ana", false, "Ana", true},
		{"Oi", false, "", false},
		{"Bom dia", false, "", false},
		{"Olá, tudo bem?", false, "", false},
		{"Quero marcar uma consulta para semana que vem", false, "", false},
		{"Ana", true, "", false},
		{"x", false, "", false},
		{"R2D2", false, "", false},
		{"Estou com dor", false, "", false},
		{"tenho acne", false, "", false},
		{"Dor nas costas", false, "", false},
		{"Maria da Silva", false, "Maria", true},
		{"ana paula", false, "Ana", true},
		{"Ana, quero agendar", false, "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractName(tt.text, tt.strict)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractName(%q, %v) = %q, %v; want %q, %v", tt.text, tt.strict, got, ok, tt.want, tt.ok)
		}
	}
}
