package provider

import "docchat/internal/domain"

// baseSystemPrompt is sent for every format; a format directive is appended.
const baseSystemPrompt = "You are a helpful assistant in a group chat. Answer in the language of the user."

var formatDirectives = map[domain.Format]string{
	domain.FormatText: "",
	domain.FormatPDF: "You are an assistant that processes PDF documents and produces well structured reports. " +
		"Use markdown headings (#, ##) for sections and '-' for bullet lists.",
	domain.FormatWord: "You are an assistant that writes Word documents. " +
		"Produce clear, continuous prose suitable for a formal document.",
	domain.FormatExcel: "You are an assistant that prepares spreadsheet data. " +
		"Return the data as a table: the first line is a header, columns are separated by commas, " +
		"one record per line, without explanations.",
	domain.FormatPowerPoint: "You are an assistant that creates presentations. " +
		"Separate slides with a blank line; start each slide with a short title line followed by a few concise points.",
	domain.FormatChecklist: "You are an assistant that creates checklists. " +
		"Return one actionable item per line, numbered, without introductions or conclusions.",
	domain.FormatBusiness: "You are a business analyst that performs market and financial analysis. " +
		"Write a structured business document with an executive summary, findings and recommendations.",
	domain.FormatAnalytics: "You are a data analyst that performs statistical analysis of the provided data. " +
		"Return the resulting metrics as a table: a header line and comma separated rows.",
}

// SystemPrompt returns the system turn content for format.
func SystemPrompt(format domain.Format) string {
	directive := formatDirectives[format]
	if directive == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\n" + directive
}
