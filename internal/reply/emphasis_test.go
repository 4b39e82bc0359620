package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmphasize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "single span", in: "Say **Hello** now", want: "Say 𝗛𝗲𝗹𝗹𝗼 now"},
		{name: "digits", in: "**Gia 2025**", want: "𝗚𝗶𝗮 𝟮𝟬𝟮𝟱"},
		{name: "adjacent spans", in: "**Hello****Bold**", want: "𝗛𝗲𝗹𝗹𝗼𝗕𝗼𝗹𝗱"},
		{name: "non ascii untouched", in: "**suất**", want: "𝘀𝘂ấ𝘁"},
		{name: "unmatched marker", in: "a ** b", want: "a ** b"},
		{name: "no markers", in: "plain text", want: "plain text"},
		{name: "empty", in: "", want: ""},
		{name: "already bold", in: "𝗛𝗲𝗹𝗹𝗼", want: "𝗛𝗲𝗹𝗹𝗼"},
		{name: "multiline span", in: "**Hello\nBold**", want: "𝗛𝗲𝗹𝗹𝗼\n𝗕𝗼𝗹𝗱"},
		{name: "nested span", in: "**a **b** c**", want: "𝗮 𝗯 𝗰"},
		{name: "nested at edges", in: "x **Book **now**!** y", want: "x 𝗕𝗼𝗼𝗸 𝗻𝗼𝘄! y"},
		{name: "doubly nested", in: "**a **b **c** d** e**", want: "𝗮 𝗯 𝗰 𝗱 𝗲"},
		{name: "spaced markers literal", in: "a ** b ** c", want: "a ** b ** c"},
		{name: "empty span literal", in: "****", want: "****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Emphasize(tt.in))
		})
	}
}

func TestEmphasize_Idempotent(t *testing.T) {
	inputs := []string{
		"Say **Hello** now",
		"**a***b**",
		"***a**",
		"**x* **y**",
		"**a **b** c**",
		"**a **b **c** d** e**",
		"****a**",
		"*****",
		"** **** **",
		"**𝟯𝟱𝟬.𝟬𝟬𝟬đ/𝟭**",
		"no markers at all",
	}
	for _, in := range inputs {
		once := Emphasize(in)
		assert.Equal(t, once, Emphasize(once), "input %q", in)
	}
}

func TestToBold(t *testing.T) {
	assert.Equal(t, "𝟯𝟱𝟬.𝟬𝟬𝟬", ToBold("350.000"))
	assert.Equal(t, "𝗽𝗿𝗶𝗰𝗲", ToBold("price"))
	assert.Equal(t, "𝗽𝗿𝗶𝗰𝗲", ToBold("𝗽𝗿𝗶𝗰𝗲"))
}
