package translator

import "encoding/json"

// MarshalJSON emits a single string when there is exactly one value,
// matching the common OpenAI client convention, or a list otherwise.
func (s OpenAIStop) MarshalJSON() ([]byte, error) {
	if len(s.Values) == 1 {
		return json.Marshal(s.Values[0])
	}
	return json.Marshal(s.Values)
}

func (s *OpenAIStop) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.Values = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	s.Values = list
	return nil
}

func (s AnthropicSystem) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text)
}

func (s *AnthropicSystem) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		return nil
	}
	var blocks []AnthropicContent
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	for _, b := range blocks {
		s.Text += b.Text
	}
	return nil
}

func (c OpenAIToolChoice) MarshalJSON() ([]byte, error) {
	if c.Mode == "function" {
		return json.Marshal(struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		}{Type: "function", Function: struct {
			Name string `json:"name"`
		}{Name: c.FunctionName}})
	}
	return json.Marshal(c.Mode)
}

func (c *OpenAIToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		c.Mode = mode
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Mode = "function"
	c.FunctionName = obj.Function.Name
	return nil
}
