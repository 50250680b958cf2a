package format

import (
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

type upperFormatter struct{}

func (upperFormatter) Format(msg *apubsub.Message) Display {
	return Display{Text: "MAIL: " + msg.Contents.(string), Icon: "mail"}
}

func TestRegistryRegistered(t *testing.T) {
	reg := NewRegistry(true)
	reg.Register("mail.incoming", func(string) Formatter { return upperFormatter{} })

	require.True(t, reg.TypeExists("mail.incoming"))
	require.False(t, reg.TypeExists("chat"))

	f, err := reg.Instance("mail.incoming")
	require.NoError(t, err)

	display := f.Format(&apubsub.Message{Type: "mail.incoming", Contents: "hello"})
	require.Equal(t, "MAIL: hello", display.Text)
	require.Equal(t, "mail", display.Icon)
}

func TestRegistryStrictMiss(t *testing.T) {
	reg := NewRegistry(true)

	_, err := reg.Instance("unknown")
	require.True(t, apubsub.IsNotFound(err))
}

func TestRegistryLenientMiss(t *testing.T) {
	reg := NewRegistry(false)

	f, err := reg.Instance("unknown")
	require.NoError(t, err)

	display := f.Format(&apubsub.Message{Contents: "raw text"})
	require.Equal(t, "raw text", display.Text)
	require.Empty(t, display.Icon)
}

func TestNullFormatter(t *testing.T) {
	var f NullFormatter

	require.Empty(t, f.Format(nil).Text)
	require.Empty(t, f.Format(&apubsub.Message{}).Text)
	require.Equal(t, "42", f.Format(&apubsub.Message{Contents: 42}).Text)
}
