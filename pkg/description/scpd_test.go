package description

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const controlSCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
    <action>
      <name>SetChannel</name>
      <argumentList>
        <argument><name>Channel</name><direction>in</direction><relatedStateVariable>Channel</relatedStateVariable></argument>
        <argument><name>NewChannel</name><direction>out</direction><relatedStateVariable>Channel</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action><name>PowerOn</name></action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes">
      <name>Power</name><dataType>boolean</dataType><defaultValue>0</defaultValue>
    </stateVariable>
    <stateVariable sendEvents="yes">
      <name>Channel</name><dataType>i4</dataType>
      <allowedValueRange><minimum>1</minimum><maximum>100</maximum><step>1</step></allowedValueRange>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>A_ARG_TYPE_Mode</name><dataType>string</dataType>
      <allowedValueList><allowedValue>A</allowedValue><allowedValue>B</allowedValue></allowedValueList>
    </stateVariable>
  </serviceStateTable>
</scpd>`

func TestParseSCPD(t *testing.T) {
	s, err := ParseSCPDBytes([]byte(controlSCPD))
	require.NoError(t, err)

	a := s.Action("SetChannel")
	require.NotNil(t, a)
	require.Len(t, a.Arguments, 2)
	assert.Equal(t, DirectionIn, a.Arguments[0].Direction)
	assert.Nil(t, s.Action("Missing"))

	ch := s.Variable("Channel")
	require.NotNil(t, ch)
	require.NotNil(t, ch.AllowedRange)
	assert.Equal(t, "100", ch.AllowedRange.Maximum)
	assert.Equal(t, []string{"A", "B"}, s.Variable("A_ARG_TYPE_Mode").AllowedValues)

	assert.Equal(t, []string{"Power", "Channel"}, s.EventedVariables())
}

func TestParseSCPDUnknownVariable(t *testing.T) {
	doc := `<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList><action><name>X</name><argumentList>
    <argument><name>A</name><direction>in</direction><relatedStateVariable>Nope</relatedStateVariable></argument>
  </argumentList></action></actionList>
  <serviceStateTable/>
</scpd>`
	_, err := ParseSCPDBytes([]byte(doc))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSCPDMarshal(t *testing.T) {
	s, err := ParseSCPDBytes([]byte(controlSCPD))
	require.NoError(t, err)
	out, err := s.Marshal()
	require.NoError(t, err)
	again, err := ParseSCPDBytes(out)
	require.NoError(t, err)
	assert.Equal(t, s.EventedVariables(), again.EventedVariables())
	assert.Len(t, again.Actions, 2)
}
