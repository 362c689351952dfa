package classifier

import (
	"strings"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/internal/core"
)

func testTaxonomy(t *testing.T) core.Taxonomy {
	t.Helper()
	tax, err := core.NewTaxonomy([]core.Category{
		{Name: "餐饮美食", Children: []string{"日常三餐", "外卖"}},
		{Name: "交通出行", Children: []string{"公共交通", "打车"}},
		{Name: "其他"},
	})
	require.NoError(t, err)
	return tax
}

func TestParseReply(t *testing.T) {
	tax := testTaxonomy(t)
	tests := []struct {
		name   string
		reply  string
		l1, l2 string
		err    error
	}{
		{"plain", "L1 Category: 交通出行\nL2 Category: 打车", "交通出行", "打车", nil},
		{"markdown", "- **L1 Category:** 餐饮美食\n- **L2 Category:** 外卖\n", "餐饮美食", "外卖", nil},
		{"lowercase and full-width colon", "l1 category：餐饮美食\nl2 category：外卖", "餐饮美食", "外卖", nil},
		{"surrounding chatter", "Sure!\nL1 Category: 交通出行\nL2 Category: 公共交通\nHope this helps.", "交通出行", "公共交通", nil},
		{"crlf line endings", "L1 Category: 交通出行\r\nL2 Category: 打车\r\n", "交通出行", "打车", nil},
		{"full-width space after colon", "L1 Category：\u3000交通出行\nL2 Category：打车\u3000", "交通出行", "打车", nil},
		{"leaf without children", "L1 Category: 其他\nL2 Category:", "其他", "", nil},
		{"missing L2 line", "L1 Category: 餐饮美食", "", "", ErrUnparseableReply},
		{"no labels", "餐饮美食 / 外卖", "", "", ErrUnparseableReply},
		{"unknown L1", "L1 Category: 宠物\nL2 Category: 猫粮", "", "", ErrUnknownCategory},
		{"L2 under wrong parent", "L1 Category: 餐饮美食\nL2 Category: 打车", "", "", ErrUnknownCategory},
		{"empty L2 where children exist", "L1 Category: 餐饮美食\nL2 Category:", "", "", ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseReply(tt.reply, tax)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.l1, res.L1)
			assert.Equal(t, tt.l2, res.L2)
		})
	}
}

func TestBuildPromptEmptyTaxonomy(t *testing.T) {
	tmpl := template.Must(template.New("u").Parse("{{.Description}}"))
	_, err := BuildPrompt(Request{Text: "x"}, core.Taxonomy{}, tmpl)
	assert.ErrorIs(t, err, core.ErrInvalidTaxonomy)
}

func TestBuildPromptListsTaxonomyInOrder(t *testing.T) {
	tmpl := template.Must(template.New("u").Option("missingkey=error").Parse("{{.Description}} ({{.Channel}})"))
	p, err := BuildPrompt(Request{Text: "滴滴出行", Channel: core.ChannelAlipay}, testTaxonomy(t), tmpl)
	require.NoError(t, err)

	assert.Less(t, strings.Index(p.System, "餐饮美食"), strings.Index(p.System, "交通出行"))
	assert.Contains(t, p.System, "- 其他\n")
	assert.Contains(t, p.System, "L2 Category:")
	assert.Equal(t, "滴滴出行 (Alipay)", p.User)
}
